package hsmsss

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fablink/go-hsms/hsms"
	"github.com/fablink/go-hsms/logger"
)

// Role selects how a connection acquires its TCP stream.
type Role uint8

const (
	// RoleActive dials the remote entity and reconnects after every disconnect.
	RoleActive Role = iota
	// RolePassive keeps a listener bound and accepts one connection at a time.
	RolePassive
	// RolePassiveRebind closes the listener after every disconnect and binds it
	// again after the rebind interval.
	RolePassiveRebind
)

func (r Role) String() string {
	switch r {
	case RoleActive:
		return "active"
	case RolePassive:
		return "passive"
	case RolePassiveRebind:
		return "passive-rebind"
	default:
		return "role(" + strconv.Itoa(int(r)) + ")"
	}
}

// IsPassive reports whether r accepts connections.
func (r Role) IsPassive() bool {
	return r == RolePassive || r == RolePassiveRebind
}

// ParseRole converts "active", "passive" or "passive-rebind" to a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return RoleActive, nil
	case "passive":
		return RolePassive, nil
	case "passive-rebind", "passive_rebind", "rebind":
		return RolePassiveRebind, nil
	default:
		return RoleActive, fmt.Errorf("unknown role %q", s)
	}
}

// minTimer is the lower bound accepted for every protocol timer.
const minTimer = 10 * time.Millisecond

// ConnectionConfig represents the configuration parameters for an HSMS-SS connection.
type ConnectionConfig struct {
	mu sync.RWMutex

	// host is the remote host for the active role and the bind address for the passive roles.
	// An empty host binds all interfaces.
	host string
	// port is the TCP port of the remote entity or of the local listener.
	port int

	// role selects active, passive or passive-rebind connection acquisition.
	// Defaults to RoleActive.
	role Role
	// rebindInterval is the delay between closing and re-binding the listener in
	// RolePassiveRebind. Defaults to 5 seconds.
	rebindInterval time.Duration

	// isEquip indicates whether this side is the equipment (true) or the host (false).
	// It is informational only and doesn't change protocol behavior.
	isEquip bool
	// sessionID is the session id (device id) stamped on select, deselect, separate
	// and data messages.
	sessionID uint16

	// autoLinktest enables the periodic linktest while selected. Defaults to true.
	autoLinktest bool
	// linktestInterval is the period of the automatic linktest. Defaults to 10 seconds.
	linktestInterval time.Duration

	// t3Timeout is the reply timeout for data messages. Defaults to 45 seconds.
	t3Timeout time.Duration
	// t5Timeout is the connect separation time. Defaults to 10 seconds.
	t5Timeout time.Duration
	// t6Timeout is the control transaction timeout. Defaults to 5 seconds.
	t6Timeout time.Duration
	// t7Timeout is the not selected timeout. Defaults to 10 seconds.
	t7Timeout time.Duration
	// t8Timeout is the inter-character timeout. Defaults to 5 seconds.
	t8Timeout time.Duration

	// connectTimeout bounds one dial attempt of the active role. Defaults to 3 seconds.
	connectTimeout time.Duration

	// name identifies the communicator in logs and metrics.
	name string
	// logSubjectHeader prefixes the subject of every published log event.
	logSubjectHeader string

	logger logger.Logger
}

// NewConnectionConfig creates a new HSMS-SS connection configuration with the given host,
// port number, and optional functional options.
//
// For the active role host and port address the remote entity; for the passive roles
// they are the local bind address.
func NewConnectionConfig(host string, port int, opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{
		role:             RoleActive,
		rebindInterval:   5 * time.Second,
		autoLinktest:     true,
		linktestInterval: 10 * time.Second,
		t3Timeout:        45 * time.Second,
		t5Timeout:        10 * time.Second,
		t6Timeout:        5 * time.Second,
		t7Timeout:        10 * time.Second,
		t8Timeout:        5 * time.Second,
		connectTimeout:   3 * time.Second,
		name:             "hsmsss",
		logger:           logger.GetLogger(),
	}

	if err := withRemoteHost(host).apply(cfg); err != nil {
		return cfg, err
	}

	if err := withPort(port).apply(cfg); err != nil {
		return cfg, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// Address returns host:port.
func (cfg *ConnectionConfig) Address() string {
	return net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port))
}

func (cfg *ConnectionConfig) Role() Role { return cfg.role }

// IsEquip reports whether this side is the equipment. Informational only.
func (cfg *ConnectionConfig) IsEquip() bool { return cfg.isEquip }

func (cfg *ConnectionConfig) SessionID() uint16     { return cfg.sessionID }
func (cfg *ConnectionConfig) Name() string          { return cfg.name }
func (cfg *ConnectionConfig) Logger() logger.Logger { return cfg.logger }

func (cfg *ConnectionConfig) LogSubjectHeader() string { return cfg.logSubjectHeader }

func (cfg *ConnectionConfig) RebindInterval() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.rebindInterval
}

func (cfg *ConnectionConfig) AutoLinktest() bool {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.autoLinktest
}

func (cfg *ConnectionConfig) LinktestInterval() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.linktestInterval
}

func (cfg *ConnectionConfig) T3Timeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.t3Timeout
}

func (cfg *ConnectionConfig) T5Timeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.t5Timeout
}

func (cfg *ConnectionConfig) T6Timeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.t6Timeout
}

func (cfg *ConnectionConfig) T7Timeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.t7Timeout
}

func (cfg *ConnectionConfig) T8Timeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.t8Timeout
}

func (cfg *ConnectionConfig) ConnectTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.connectTimeout
}

// ConnOption represents a functional option for configuring a ConnectionConfig.
type ConnOption interface {
	apply(*ConnectionConfig) error
	isRuntime() bool
}

type connOptFunc struct {
	name      string
	runtime   bool
	applyFunc func(*ConnectionConfig) error
}

func (c *connOptFunc) apply(cfg *ConnectionConfig) error {
	if cfg == nil {
		return hsms.ErrConnConfigNil
	}

	if err := c.applyFunc(cfg); err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}

	return nil
}

func (c *connOptFunc) isRuntime() bool { return c.runtime }

func newConnOptFunc(name string, runtime bool, f func(*ConnectionConfig) error) *connOptFunc {
	return &connOptFunc{
		name:      name,
		runtime:   runtime,
		applyFunc: f,
	}
}

// applyRuntime applies opts that may change while the connection is open.
func (cfg *ConnectionConfig) applyRuntime(opts ...ConnOption) error {
	for _, opt := range opts {
		if !opt.isRuntime() {
			return errors.New("option can't be changed at runtime")
		}
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return err
		}
	}

	return nil
}

// withRemoteHost validates host as an IP address or a resolvable name.
// An empty host is accepted and binds all interfaces in the passive roles.
func withRemoteHost(host string) ConnOption {
	return newConnOptFunc("withRemoteHost", false, func(cfg *ConnectionConfig) error {
		if host == "" {
			cfg.host = host
			return nil
		}

		if ip := net.ParseIP(host); ip != nil {
			cfg.host = host
			return nil
		}

		host = strings.TrimPrefix(host, ".")
		host = strings.TrimSuffix(host, ".")
		if _, err := net.LookupHost(host); err == nil {
			cfg.host = host
			return nil
		}

		return errors.New("invalid host")
	})
}

func withPort(port int) ConnOption {
	return newConnOptFunc("withPort", false, func(cfg *ConnectionConfig) error {
		if port < 0 || port > 65535 {
			return errors.New("port is out of range [0, 65535]")
		}
		cfg.port = port

		return nil
	})
}

// WithEquipRole sets the connection as the equipment side. The default role is host.
// The side is informational only; HSMS-SS behaves the same for host and equipment.
func WithEquipRole() ConnOption {
	return newConnOptFunc("WithEquipRole", false, func(cfg *ConnectionConfig) error {
		cfg.isEquip = true
		return nil
	})
}

// WithHostRole sets the connection as the host side. The default role is host.
func WithHostRole() ConnOption {
	return newConnOptFunc("WithHostRole", false, func(cfg *ConnectionConfig) error {
		cfg.isEquip = false
		return nil
	})
}

// WithSessionID sets the session id (device id). Defaults to 0.
func WithSessionID(id uint16) ConnOption {
	return newConnOptFunc("WithSessionID", false, func(cfg *ConnectionConfig) error {
		if id == hsms.LinktestSessionID {
			return errors.New("session id 0xFFFF is reserved for linktest")
		}
		cfg.sessionID = id

		return nil
	})
}

// WithActive selects the active role. This is the default.
func WithActive() ConnOption {
	return newConnOptFunc("WithActive", false, func(cfg *ConnectionConfig) error {
		cfg.role = RoleActive
		return nil
	})
}

// WithPassive selects the passive role: the listener stays bound for the lifetime of
// the connection and a new peer is accepted right after a disconnect.
func WithPassive() ConnOption {
	return newConnOptFunc("WithPassive", false, func(cfg *ConnectionConfig) error {
		cfg.role = RolePassive
		return nil
	})
}

// WithPassiveRebind selects the passive-rebind role: after a disconnect the listener is
// closed and bound again once interval has elapsed.
//
// A zero interval rebinds immediately.
func WithPassiveRebind(interval time.Duration) ConnOption {
	return newConnOptFunc("WithPassiveRebind", false, func(cfg *ConnectionConfig) error {
		if interval < 0 {
			return errors.New("rebind interval must not be negative")
		}
		cfg.role = RolePassiveRebind
		cfg.rebindInterval = interval

		return nil
	})
}

// WithAutoLinktest enables or disables the periodic linktest while selected.
//
// This option can be changed at runtime with Connection.UpdateConfigOptions.
func WithAutoLinktest(val bool) ConnOption {
	return newConnOptFunc("WithAutoLinktest", true, func(cfg *ConnectionConfig) error {
		cfg.autoLinktest = val
		return nil
	})
}

// WithLinktestInterval sets the period of the automatic linktest.
//
// This option can be changed at runtime with Connection.UpdateConfigOptions.
func WithLinktestInterval(interval time.Duration) ConnOption {
	return newConnOptFunc("WithLinktestInterval", true, func(cfg *ConnectionConfig) error {
		if interval < minTimer {
			return errors.New("linktest interval must be at least 10ms")
		}
		cfg.linktestInterval = interval

		return nil
	})
}

// WithT3Timeout sets the reply timeout (T3) of data messages, in range [0.01, 120] seconds.
// The default value is 45 seconds.
//
// This option can be changed at runtime.
func WithT3Timeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithT3Timeout", true, func(cfg *ConnectionConfig) error {
		if val < minTimer || val > 120*time.Second {
			return errors.New("t3 timeout out of range [0.01, 120]")
		}
		cfg.t3Timeout = val

		return nil
	})
}

// WithT5Timeout sets the connect separation time (T5), in range [0.01, 240] seconds.
// The default value is 10 seconds.
//
// This option can be changed at runtime.
func WithT5Timeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithT5Timeout", true, func(cfg *ConnectionConfig) error {
		if val < minTimer || val > 240*time.Second {
			return errors.New("t5 timeout out of range [0.01, 240]")
		}
		cfg.t5Timeout = val

		return nil
	})
}

// WithT6Timeout sets the control transaction timeout (T6), in range [0.01, 240] seconds.
// The default value is 5 seconds.
//
// This option can be changed at runtime.
func WithT6Timeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithT6Timeout", true, func(cfg *ConnectionConfig) error {
		if val < minTimer || val > 240*time.Second {
			return errors.New("t6 timeout out of range [0.01, 240]")
		}
		cfg.t6Timeout = val

		return nil
	})
}

// WithT7Timeout sets the not selected timeout (T7), in range [0.01, 240] seconds.
// The default value is 10 seconds.
//
// This option can be changed at runtime and applies to the next connection.
func WithT7Timeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithT7Timeout", true, func(cfg *ConnectionConfig) error {
		if val < minTimer || val > 240*time.Second {
			return errors.New("t7 timeout out of range [0.01, 240]")
		}
		cfg.t7Timeout = val

		return nil
	})
}

// WithT8Timeout sets the inter-character timeout (T8), in range [0.01, 120] seconds.
// The default value is 5 seconds.
//
// This option can be changed at runtime.
func WithT8Timeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithT8Timeout", true, func(cfg *ConnectionConfig) error {
		if val < minTimer || val > 120*time.Second {
			return errors.New("t8 timeout out of range [0.01, 120]")
		}
		cfg.t8Timeout = val

		return nil
	})
}

// WithConnectTimeout bounds a single dial attempt of the active role, in range
// [0.01, 30] seconds. The default value is 3 seconds.
func WithConnectTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithConnectTimeout", true, func(cfg *ConnectionConfig) error {
		if val < minTimer || val > 30*time.Second {
			return errors.New("connect timeout out of range [0.01, 30]")
		}
		cfg.connectTimeout = val

		return nil
	})
}

// WithName sets the name used in logs and metric labels.
func WithName(name string) ConnOption {
	return newConnOptFunc("WithName", false, func(cfg *ConnectionConfig) error {
		if strings.TrimSpace(name) == "" {
			return errors.New("name must not be empty")
		}
		cfg.name = name

		return nil
	})
}

// WithLogSubjectHeader sets a prefix for the subject of published log events.
func WithLogSubjectHeader(header string) ConnOption {
	return newConnOptFunc("WithLogSubjectHeader", false, func(cfg *ConnectionConfig) error {
		cfg.logSubjectHeader = header
		return nil
	})
}

// WithLogger sets the logger. Defaults to the package default logger.
func WithLogger(l logger.Logger) ConnOption {
	return newConnOptFunc("WithLogger", false, func(cfg *ConnectionConfig) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
