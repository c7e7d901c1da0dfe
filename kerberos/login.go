package kerberos

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/rs/zerolog"
)

// DefaultKrb5Conf is where the Kerberos client configuration is read from
// when the caller doesn't say otherwise.
const DefaultKrb5Conf = "/etc/krb5.conf"

// ErrBadPrincipal is returned for principals that aren't of the form
// primary[/instance]@REALM.
var ErrBadPrincipal = errors.New("malformed Kerberos principal")

// Config is what a keytab login needs.
type Config struct {
	// Path to the keytab file
	Keytab string
	// e.g., hbase/host.example.com@EXAMPLE.COM
	Principal string
	// Path to krb5.conf. Defaults to DefaultKrb5Conf.
	Krb5Conf string
}

// Principal is a parsed Kerberos principal name.
type Principal struct {
	Primary  string
	Instance string
	Realm    string
}

// ParsePrincipal splits "primary[/instance]@REALM". The realm is required
// since we never guess it from krb5.conf.
func ParsePrincipal(s string) (Principal, error) {
	at := strings.LastIndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return Principal{}, fmt.Errorf("%w: %q has no realm", ErrBadPrincipal, s)
	}
	p := Principal{Realm: s[at+1:]}
	name := s[:at]
	if i := strings.IndexByte(name, '/'); i >= 0 {
		p.Primary, p.Instance = name[:i], name[i+1:]
		if p.Instance == "" || strings.Contains(p.Instance, "/") {
			return Principal{}, fmt.Errorf("%w: %q has a bad instance", ErrBadPrincipal, s)
		}
	} else {
		p.Primary = name
	}
	if p.Primary == "" {
		return Principal{}, fmt.Errorf("%w: %q has no primary", ErrBadPrincipal, s)
	}
	return p, nil
}

// Name returns the principal without its realm, which is the form gokrb5
// expects as a username.
func (p Principal) Name() string {
	if p.Instance == "" {
		return p.Primary
	}
	return p.Primary + "/" + p.Instance
}

func (p Principal) String() string {
	return p.Name() + "@" + p.Realm
}

// Identity is the result of one successful login.
type Identity struct {
	Principal  Principal
	LoggedInAt time.Time

	client *client.Client
}

// ShortName is the principal's primary, i.e. the user name HBase attributes
// requests to.
func (i *Identity) ShortName() string {
	return i.Principal.Primary
}

// Destroy discards the identity's tickets. Safe to call on a nil Identity or
// more than once.
func (i *Identity) Destroy() {
	if i == nil || i.client == nil {
		return
	}
	i.client.Destroy()
	i.client = nil
}

// Login reads the keytab and krb5.conf named in c and obtains a TGT for
// c.Principal.
func Login(c Config, logger zerolog.Logger) (*Identity, error) {
	if c.Keytab == "" {
		return nil, errors.New("a Kerberos login needs a keytab")
	}
	p, err := ParsePrincipal(c.Principal)
	if err != nil {
		return nil, err
	}

	kt, err := keytab.Load(c.Keytab)
	if err != nil {
		return nil, fmt.Errorf("can't load the keytab at %v: %w", c.Keytab, err)
	}

	confPath := c.Krb5Conf
	if confPath == "" {
		confPath = DefaultKrb5Conf
	}
	conf, err := config.Load(confPath)
	if err != nil {
		return nil, fmt.Errorf("can't load the Kerberos configuration at %v: %w", confPath, err)
	}

	cl := client.NewWithKeytab(p.Name(), p.Realm, kt, conf, client.DisablePAFXFAST(true))
	if err := cl.Login(); err != nil {
		cl.Destroy()
		return nil, fmt.Errorf("can't log in as %v: %w", p, err)
	}

	logger.Info().Str("principal", p.String()).Msg("logged in with keytab")
	return &Identity{
		Principal:  p,
		LoggedInAt: time.Now(),
		client:     cl,
	}, nil
}
