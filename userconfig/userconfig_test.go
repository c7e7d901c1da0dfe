package userconfig

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	// Asserting deep equality between the expected and actual Meta would
	// be convoluted, so we make sure nothing fails unexpectedly here and test
	// knottier marshaling/validation situations elsewhere.
	testCases := []struct {
		description   string
		conf          string
		shouldBeError bool
	}{
		{
			description: "valid hbase case",
			conf: `---
store:
  backend: hbase
  quorum: zk1:2181,zk2:2181
  znodeParent: /hbase-secure
  batchPutLimit: 1000
  probeTimeout: 5s
  config:
    authMethod: kerberos
    user-keytab: /etc/security/app.keytab
    masterPrincipal: hbase/_HOST@EXAMPLE.COM
    regionserverPrincipal: hbase/_HOST@EXAMPLE.COM
    refreshAuth: "6"
`,
		},
		{
			description: "valid local case",
			conf: `---
store:
  backend: local
local:
  storageDir: ./tempTestDir3012705204
  keyTTL: "168h"
  cleanupInterval: "10m"`,
		},
		{
			description:   "not yaml",
			shouldBeError: true,
			conf:          `this is not yaml`,
		},
		{
			description:   "no store section",
			shouldBeError: true,
			conf: `local:
  storageDir: ./data`,
		},
		{
			description:   "probe timeout not a duration",
			shouldBeError: true,
			conf: `store:
  quorum: zk1:2181
  probeTimeout: "5"`,
		},
		{
			description:   "kerberos without a keytab",
			shouldBeError: true,
			conf: `store:
  quorum: zk1:2181
  config:
    authMethod: kerberos
    masterPrincipal: hbase/_HOST@EXAMPLE.COM`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			m, err := Parse(bytes.NewBufferString(tc.conf))
			if tc.shouldBeError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			_, err = m.CheckAndSetDefaults()
			require.NoError(t, err)
		})
	}
}

func TestParseKerberos(t *testing.T) {
	m, err := Parse(bytes.NewBufferString(`store:
  quorum: zk1:2181
  batchPutLimit: 1000
  config:
    authMethod: Kerberos
    user-keytab: /etc/security/app.keytab
    principal: app@EXAMPLE.COM
    masterPrincipal: hbase/_HOST@EXAMPLE.COM
    regionserverPrincipal: hbase/_HOST@EXAMPLE.COM
    krb5Conf: /opt/krb5.conf
    refreshAuth: "6"
    hbase.rpc.timeout: "30000"
`))
	require.NoError(t, err)
	c, err := m.CheckAndSetDefaults()
	require.NoError(t, err)

	require.Equal(t, BackendHBase, c.Store.Backend)
	require.Equal(t, "/hbase", c.Store.ZnodeParent)
	require.Equal(t, 1000, c.Store.BatchPutLimit)
	require.Equal(t, 10*time.Second, c.Store.ProbeTimeout)
	require.Equal(t, "30000", c.Store.Settings["hbase.rpc.timeout"])

	k, ok := c.Store.Auth.(KerberosAuth)
	require.True(t, ok)
	require.True(t, k.RequiresRenewal())
	require.Equal(t, 6*time.Hour, k.RefreshInterval())
	require.Equal(t, KerberosAuth{
		Keytab:                "/etc/security/app.keytab",
		Principal:             "app@EXAMPLE.COM",
		MasterPrincipal:       "hbase/_HOST@EXAMPLE.COM",
		RegionServerPrincipal: "hbase/_HOST@EXAMPLE.COM",
		Krb5Conf:              "/opt/krb5.conf",
		Refresh:               6 * time.Hour,
	}, k)
}

func TestStoreConfigCheckAndSetDefaults(t *testing.T) {
	kerb := KerberosAuth{Keytab: "k", Principal: "p@R"}
	testCases := []struct {
		description string
		conf        StoreConfig
		want        StoreConfig
		wantErr     bool
	}{
		{
			description: "defaults",
			conf:        StoreConfig{Quorum: "zk:2181"},
			want: StoreConfig{
				Backend:       BackendHBase,
				Quorum:        "zk:2181",
				ZnodeParent:   "/hbase",
				BatchPutLimit: DefaultBatchPutLimit,
				ProbeTimeout:  10 * time.Second,
				Auth:          NoAuth{},
			},
		},
		{
			description: "noop needs no quorum",
			conf:        StoreConfig{Backend: BackendNoop},
			want: StoreConfig{
				Backend:       BackendNoop,
				ZnodeParent:   "/hbase",
				BatchPutLimit: DefaultBatchPutLimit,
				ProbeTimeout:  10 * time.Second,
				Auth:          NoAuth{},
			},
		},
		{
			description: "unknown backend",
			conf:        StoreConfig{Backend: "cassandra", Quorum: "zk:2181"},
			wantErr:     true,
		},
		{
			description: "hbase without a quorum",
			conf:        StoreConfig{Backend: BackendHBase},
			wantErr:     true,
		},
		{
			description: "negative batch limit",
			conf:        StoreConfig{Quorum: "zk:2181", BatchPutLimit: -1},
			wantErr:     true,
		},
		{
			description: "kerberos with the local backend",
			conf:        StoreConfig{Backend: BackendLocal, Auth: kerb},
			wantErr:     true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			got, err := tc.conf.CheckAndSetDefaults()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestMetaLocalNeedsStorage(t *testing.T) {
	m := Meta{Store: StoreConfig{Backend: BackendLocal}}
	_, err := m.CheckAndSetDefaults()
	require.Error(t, err)

	m.Local.InMemory = true
	c, err := m.CheckAndSetDefaults()
	require.NoError(t, err)
	require.True(t, c.Local.InMemory)
}

func TestAuthFromSettings(t *testing.T) {
	testCases := []struct {
		description string
		settings    map[string]string
		want        Auth
		wantErr     bool
	}{
		{description: "no settings", want: NoAuth{}},
		{description: "other method", settings: map[string]string{"authMethod": "simple"}, want: NoAuth{}},
		{
			description: "principal defaults to the master principal",
			settings: map[string]string{
				"authMethod":      "kerberos",
				"user-keytab":     "/k",
				"masterPrincipal": "hbase/h@R",
			},
			want: KerberosAuth{Keytab: "/k", Principal: "hbase/h@R", MasterPrincipal: "hbase/h@R"},
		},
		{
			description: "no principal",
			settings:    map[string]string{"authMethod": "kerberos", "user-keytab": "/k"},
			wantErr:     true,
		},
		{
			description: "refresh not a number",
			settings: map[string]string{
				"authMethod": "kerberos", "user-keytab": "/k", "principal": "a@R", "refreshAuth": "12h",
			},
			wantErr: true,
		},
		{
			description: "refresh not positive",
			settings: map[string]string{
				"authMethod": "kerberos", "user-keytab": "/k", "principal": "a@R", "refreshAuth": "0",
			},
			wantErr: true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			got, err := authFromSettings(tc.settings)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestRefreshIntervalDefault(t *testing.T) {
	require.Equal(t, DefaultRefreshInterval, KerberosAuth{}.RefreshInterval())
	require.Equal(t, time.Duration(0), NoAuth{}.RefreshInterval())
	require.False(t, NoAuth{}.RequiresRenewal())
}

func TestLoginPrincipal(t *testing.T) {
	p, err := KerberosAuth{Principal: "app@R"}.LoginPrincipal()
	require.NoError(t, err)
	require.Equal(t, "app@R", p)

	p, err = KerberosAuth{Principal: "hbase/_HOST@R"}.LoginPrincipal()
	require.NoError(t, err)
	require.NotContains(t, p, "_HOST")
	require.Regexp(t, `^hbase/.+@R$`, p)
}
