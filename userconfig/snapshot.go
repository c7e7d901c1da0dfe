package userconfig

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ptgott/hbase-template/kerberos"
	"github.com/ptgott/hbase-template/storage"
	"github.com/rs/zerolog"
)

// Setting names, as HBase and Hadoop spell them.
const (
	SettingQuorum               = "hbase.zookeeper.quorum"
	SettingZnodeParent          = "zookeeper.znode.parent"
	SettingHadoopAuth           = "hadoop.security.authentication"
	SettingHBaseAuth            = "hbase.security.authentication"
	SettingMasterPrincipal      = "hbase.master.kerberos.principal"
	SettingRegionPrincipal      = "hbase.regionserver.kerberos.principal"
	SettingZookeeperTimeout     = "zookeeper.session.timeout"
	SettingRPCTimeout           = "hbase.rpc.timeout"
	SettingMetaOperationTimeout = "hbase.client.meta.operation.timeout"
)

// LoginFunc obtains a Kerberos identity. kerberos.Login is the real one.
type LoginFunc func(kerberos.Config, zerolog.Logger) (*kerberos.Identity, error)

// Snapshot is the configuration one connection is built from, including the
// identity obtained for it. A Snapshot never changes once built.
type Snapshot struct {
	Backend       Backend
	Auth          Auth
	BatchPutLimit int
	ProbeTimeout  time.Duration
	// nil unless Auth is KerberosAuth
	Identity *kerberos.Identity
	BuiltAt  time.Time

	settings map[string]string
}

// Get returns a single setting.
func (s *Snapshot) Get(key string) (string, bool) {
	v, ok := s.settings[key]
	return v, ok
}

// Settings returns a copy of every setting in the snapshot.
func (s *Snapshot) Settings() map[string]string {
	c := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		c[k] = v
	}
	return c
}

func (s *Snapshot) millis(key string) (time.Duration, error) {
	v, ok := s.settings[key]
	if !ok || v == "" {
		return 0, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("%v must be a number of milliseconds, not %q", key, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// HBaseConfig translates the snapshot into what storage.NewHBaseStore needs.
func (s *Snapshot) HBaseConfig() (storage.HBaseConfig, error) {
	c := storage.HBaseConfig{
		Quorum:       s.settings[SettingQuorum],
		ZnodeParent:  s.settings[SettingZnodeParent],
		ProbeTimeout: s.ProbeTimeout,
	}
	if s.Identity != nil {
		c.EffectiveUser = s.Identity.ShortName()
	}

	var err error
	if c.ZookeeperTimeout, err = s.millis(SettingZookeeperTimeout); err != nil {
		return storage.HBaseConfig{}, err
	}
	if c.RegionReadTimeout, err = s.millis(SettingRPCTimeout); err != nil {
		return storage.HBaseConfig{}, err
	}
	if c.RegionLookupTimeout, err = s.millis(SettingMetaOperationTimeout); err != nil {
		return storage.HBaseConfig{}, err
	}
	return c, nil
}

// SnapshotBuilder builds a fresh Snapshot for every connection.
type SnapshotBuilder struct {
	Store StoreConfig
	// Defaults to kerberos.Login
	Login LoginFunc
	Log   zerolog.Logger
}

// Build merges settings in increasing order of precedence: Hadoop site
// files, then the quorum and znode parent, then the Kerberos settings, then
// the "config" section. With KerberosAuth it also logs in, so every Snapshot
// carries a fresh identity.
func (b *SnapshotBuilder) Build(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &Snapshot{
		Backend:       b.Store.Backend,
		Auth:          b.Store.Auth,
		BatchPutLimit: b.Store.BatchPutLimit,
		ProbeTimeout:  b.Store.ProbeTimeout,
		settings:      make(map[string]string),
	}
	if s.Auth == nil {
		s.Auth = NoAuth{}
	}

	k, kerb := s.Auth.(KerberosAuth)
	if kerb {
		for _, path := range []string{k.HBaseSite, k.CoreSite} {
			if path == "" {
				continue
			}
			props, err := ReadSiteFile(path)
			if err != nil {
				return nil, err
			}
			for n, v := range props {
				s.settings[n] = v
			}
		}
	}

	s.settings[SettingQuorum] = b.Store.Quorum
	s.settings[SettingZnodeParent] = b.Store.ZnodeParent
	b.Log.Info().
		Str("quorum", b.Store.Quorum).
		Str("znodeParent", b.Store.ZnodeParent).
		Msg("building store configuration")

	if kerb {
		s.settings[SettingHadoopAuth] = authMethodKerberos
		s.settings[SettingHBaseAuth] = authMethodKerberos
		if k.MasterPrincipal != "" && k.RegionServerPrincipal != "" {
			s.settings[SettingMasterPrincipal] = k.MasterPrincipal
			s.settings[SettingRegionPrincipal] = k.RegionServerPrincipal
		}
	}

	for n, v := range b.Store.Settings {
		s.settings[n] = v
	}

	if kerb {
		principal, err := k.LoginPrincipal()
		if err != nil {
			return nil, err
		}
		login := b.Login
		if login == nil {
			login = kerberos.Login
		}
		id, err := login(kerberos.Config{
			Keytab:    k.Keytab,
			Principal: principal,
			Krb5Conf:  k.Krb5Conf,
		}, b.Log)
		if err != nil {
			return nil, fmt.Errorf("Kerberos login failed: %w", err)
		}
		s.Identity = id
	}

	s.BuiltAt = time.Now()
	return s, nil
}
