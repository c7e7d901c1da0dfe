package userconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Keys of the "config" section that select and configure authentication.
const (
	keyAuthMethod            = "authMethod"
	keyKeytab                = "user-keytab"
	keyPrincipal             = "principal"
	keyMasterPrincipal       = "masterPrincipal"
	keyRegionServerPrincipal = "regionserverPrincipal"
	keyKrb5Conf              = "krb5Conf"
	keyHBaseSitePath         = "hbaseSitePath"
	keyCoreSitePath          = "coreSitePath"
	keyRefreshAuth           = "refreshAuth"

	authMethodKerberos = "kerberos"
)

// DefaultRefreshInterval is how often Kerberos credentials are renewed unless
// refreshAuth says otherwise. Tickets usually live for 24h.
const DefaultRefreshInterval = 12 * time.Hour

// Auth is how connections authenticate: either NoAuth or KerberosAuth.
type Auth interface {
	// Method is the authMethod value that selects this kind of Auth
	Method() string
	// RequiresRenewal reports whether connections must be rebuilt
	// periodically because their credentials expire.
	RequiresRenewal() bool
	// RefreshInterval is the time between renewals. Zero when no renewal
	// is required.
	RefreshInterval() time.Duration
}

// NoAuth connects without credentials.
type NoAuth struct{}

func (NoAuth) Method() string                 { return "simple" }
func (NoAuth) RequiresRenewal() bool          { return false }
func (NoAuth) RefreshInterval() time.Duration { return 0 }

// KerberosAuth logs in with a keytab before every connection is built.
// gohbase has no SASL support, so the ticket is never sent over the RPC
// channel: the login checks the credentials and the principal's short name
// becomes the connection's effective user.
type KerberosAuth struct {
	Keytab string
	// The principal we log in as. Defaults to MasterPrincipal.
	Principal             string
	MasterPrincipal       string
	RegionServerPrincipal string
	// Path to krb5.conf. Empty means the system default.
	Krb5Conf string
	// Optional Hadoop site files merged into every Snapshot
	HBaseSite string
	CoreSite  string
	Refresh   time.Duration
}

func (KerberosAuth) Method() string        { return authMethodKerberos }
func (KerberosAuth) RequiresRenewal() bool { return true }
func (k KerberosAuth) RefreshInterval() time.Duration {
	if k.Refresh <= 0 {
		return DefaultRefreshInterval
	}
	return k.Refresh
}

// LoginPrincipal is Principal with Hadoop's _HOST placeholder replaced by the
// lowercase local host name.
func (k KerberosAuth) LoginPrincipal() (string, error) {
	if !strings.Contains(k.Principal, "_HOST") {
		return k.Principal, nil
	}
	h, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("can't resolve _HOST in %v: %w", k.Principal, err)
	}
	return strings.ReplaceAll(k.Principal, "_HOST", strings.ToLower(h)), nil
}

// authFromSettings picks the Auth variant described by the "config" section.
func authFromSettings(settings map[string]string) (Auth, error) {
	method := strings.TrimSpace(settings[keyAuthMethod])
	if method == "" || !strings.EqualFold(method, authMethodKerberos) {
		return NoAuth{}, nil
	}

	k := KerberosAuth{
		Keytab:                settings[keyKeytab],
		Principal:             settings[keyPrincipal],
		MasterPrincipal:       settings[keyMasterPrincipal],
		RegionServerPrincipal: settings[keyRegionServerPrincipal],
		Krb5Conf:              settings[keyKrb5Conf],
		HBaseSite:             settings[keyHBaseSitePath],
		CoreSite:              settings[keyCoreSitePath],
	}
	if k.Principal == "" {
		k.Principal = k.MasterPrincipal
	}
	if k.Keytab == "" {
		return nil, fmt.Errorf("Kerberos authentication needs %q", keyKeytab)
	}
	if k.Principal == "" {
		return nil, fmt.Errorf("Kerberos authentication needs %q or %q", keyPrincipal, keyMasterPrincipal)
	}

	if r, ok := settings[keyRefreshAuth]; ok && r != "" {
		h, err := strconv.Atoi(r)
		if err != nil {
			return nil, fmt.Errorf("can't parse %q as a number of hours: %v", keyRefreshAuth, err)
		}
		if h <= 0 {
			return nil, errors.New("the credential refresh interval must be at least one hour")
		}
		k.Refresh = time.Duration(h) * time.Hour
	}

	return k, nil
}
