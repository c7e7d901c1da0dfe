package userconfig

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ptgott/hbase-template/kerberos"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const hbaseSite = `<?xml version="1.0"?>
<configuration>
  <property>
    <name>hbase.zookeeper.quorum</name>
    <value>from-site:2181</value>
  </property>
  <property>
    <name>hbase.rpc.timeout</name>
    <value>60000</value>
  </property>
  <property>
    <name>hbase.client.retries.number</name>
    <value> 7 </value>
  </property>
  <property>
    <value>nameless</value>
  </property>
</configuration>`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestReadSiteFile(t *testing.T) {
	props, err := ReadSiteFile(writeFile(t, "hbase-site.xml", hbaseSite))
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"hbase.zookeeper.quorum":      "from-site:2181",
		"hbase.rpc.timeout":           "60000",
		"hbase.client.retries.number": "7",
	}, props)

	_, err = ReadSiteFile(writeFile(t, "bad.xml", "not xml"))
	require.Error(t, err)
	_, err = ReadSiteFile(filepath.Join(t.TempDir(), "missing.xml"))
	require.Error(t, err)
}

func fakeLogin(calls *[]kerberos.Config) LoginFunc {
	return func(c kerberos.Config, _ zerolog.Logger) (*kerberos.Identity, error) {
		*calls = append(*calls, c)
		p, err := kerberos.ParsePrincipal(c.Principal)
		if err != nil {
			return nil, err
		}
		return &kerberos.Identity{Principal: p, LoggedInAt: time.Now()}, nil
	}
}

func TestBuildSnapshotNoAuth(t *testing.T) {
	b := SnapshotBuilder{
		Store: StoreConfig{
			Backend:      BackendHBase,
			Quorum:       "zk1:2181",
			ZnodeParent:  "/hbase",
			ProbeTimeout: time.Second,
			Settings:     map[string]string{"zookeeper.session.timeout": "90000"},
			Auth:         NoAuth{},
		},
		Log: zerolog.Nop(),
	}
	s, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Nil(t, s.Identity)

	v, ok := s.Get(SettingQuorum)
	require.True(t, ok)
	require.Equal(t, "zk1:2181", v)
	_, ok = s.Get(SettingHBaseAuth)
	require.False(t, ok)

	c, err := s.HBaseConfig()
	require.NoError(t, err)
	require.Equal(t, "zk1:2181", c.Quorum)
	require.Equal(t, "/hbase", c.ZnodeParent)
	require.Equal(t, 90*time.Second, c.ZookeeperTimeout)
	require.Equal(t, time.Second, c.ProbeTimeout)
	require.Empty(t, c.EffectiveUser)

	// Settings hands out a copy
	s.Settings()[SettingQuorum] = "changed"
	v, _ = s.Get(SettingQuorum)
	require.Equal(t, "zk1:2181", v)
}

func TestBuildSnapshotKerberosPrecedence(t *testing.T) {
	var calls []kerberos.Config
	b := SnapshotBuilder{
		Store: StoreConfig{
			Backend:     BackendHBase,
			Quorum:      "zk1:2181",
			ZnodeParent: "/hbase",
			Settings: map[string]string{
				"hbase.client.retries.number": "3",
			},
			Auth: KerberosAuth{
				Keytab:                "/k",
				Principal:             "app@EXAMPLE.COM",
				MasterPrincipal:       "hbase/_HOST@EXAMPLE.COM",
				RegionServerPrincipal: "hbase/_HOST@EXAMPLE.COM",
				Krb5Conf:              "/opt/krb5.conf",
				HBaseSite:             writeFile(t, "hbase-site.xml", hbaseSite),
			},
		},
		Login: fakeLogin(&calls),
		Log:   zerolog.Nop(),
	}

	s, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, calls, 1)
	require.Equal(t, kerberos.Config{
		Keytab:    "/k",
		Principal: "app@EXAMPLE.COM",
		Krb5Conf:  "/opt/krb5.conf",
	}, calls[0])

	settings := s.Settings()
	// The configured quorum beats the site file, and the "config" section
	// beats both.
	require.Equal(t, "zk1:2181", settings[SettingQuorum])
	require.Equal(t, "3", settings["hbase.client.retries.number"])
	require.Equal(t, "60000", settings[SettingRPCTimeout])
	require.Equal(t, "kerberos", settings[SettingHBaseAuth])
	require.Equal(t, "kerberos", settings[SettingHadoopAuth])
	require.Equal(t, "hbase/_HOST@EXAMPLE.COM", settings[SettingMasterPrincipal])

	c, err := s.HBaseConfig()
	require.NoError(t, err)
	require.Equal(t, "app", c.EffectiveUser)
	require.Equal(t, time.Minute, c.RegionReadTimeout)

	// Every build logs in again
	_, err = b.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, calls, 2)
}

func TestBuildSnapshotFailures(t *testing.T) {
	failing := func(kerberos.Config, zerolog.Logger) (*kerberos.Identity, error) {
		return nil, errors.New("KDC unreachable")
	}
	b := SnapshotBuilder{
		Store: StoreConfig{Quorum: "zk:2181", Auth: KerberosAuth{Keytab: "/k", Principal: "a@R"}},
		Login: failing,
		Log:   zerolog.Nop(),
	}
	_, err := b.Build(context.Background())
	require.ErrorContains(t, err, "KDC unreachable")

	b.Store.Auth = KerberosAuth{Keytab: "/k", Principal: "a@R", CoreSite: filepath.Join(t.TempDir(), "nope.xml")}
	_, err = b.Build(context.Background())
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Store.Auth = NoAuth{}
	_, err = b.Build(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSnapshotHBaseConfigRejectsBadTimeouts(t *testing.T) {
	s := &Snapshot{settings: map[string]string{SettingRPCTimeout: "soon"}}
	_, err := s.HBaseConfig()
	require.Error(t, err)
}
