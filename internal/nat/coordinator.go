package nat

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Method identifies how internet sharing for the tethered subnet is
// currently provided.
type Method string

const (
	MethodNone              Method = "none"
	MethodPreconfigured     Method = "preconfigured"
	MethodKernelNat         Method = "kernel_nat"
	MethodConnectionSharing Method = "connection_sharing"
	MethodIpForwarding      Method = "ip_forwarding"
)

var (
	ErrPermissionDenied = errors.New("operation requires elevated privileges")
	ErrNotSupported     = errors.New("not supported on this platform")
	ErrAllMethodsFailed = errors.New("all NAT methods failed")
)

// HostNetwork abstracts the host-side sharing primitives. The platform
// implementations shell out to the OS tooling; tests substitute a fake.
type HostNetwork interface {
	Elevated() bool
	NatRuleExists(name string) (bool, error)
	CreateNatRule(name, subnet string) error
	RemoveNatRule(name, subnet string) error
	EnableSharing(adapter string) error
	DisableSharing() error
	EnableForwarding() error
	DisableForwarding() error
}

// Coordinator establishes internet sharing for the tethered subnet by
// trying methods in order of preference and remembers which one it owns
// so teardown undoes exactly that and nothing else.
type Coordinator struct {
	mu       sync.Mutex
	host     HostNetwork
	ruleName string
	subnet   string
	active   Method
	pending  map[Method]bool
	eventLog func(method, eventType, details string) error
	logger   *slog.Logger
}

func NewCoordinator(host HostNetwork, ruleName, subnet string, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		host:     host,
		ruleName: ruleName,
		subnet:   subnet,
		active:   MethodNone,
		pending:  make(map[Method]bool),
		logger:   logger,
	}
}

// SetEventLogger installs a callback that records sharing lifecycle
// events, typically into the daemon's event database.
func (c *Coordinator) SetEventLogger(fn func(method, eventType, details string) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventLog = fn
}

// logEvent is best-effort; a failing event sink never blocks sharing.
// Callers hold c.mu.
func (c *Coordinator) logEvent(method Method, eventType, details string) {
	if c.eventLog == nil {
		return
	}
	if err := c.eventLog(string(method), eventType, details); err != nil {
		c.logger.Debug("Failed to record sharing event", "error", err)
	}
}

// Active returns the method currently providing sharing, or MethodNone.
func (c *Coordinator) Active() Method {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Establish brings up internet sharing for the tethered adapter. A rule
// pre-created by the privileged setup task is adopted as-is; otherwise
// the coordinator works down the fallback chain until one method takes.
// Calling Establish while a method is already active is a no-op.
func (c *Coordinator) Establish(adapter string) (Method, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != MethodNone {
		c.logger.Debug("Sharing already established", "method", c.active)
		return c.active, nil
	}

	var attempts []error

	exists, err := c.host.NatRuleExists(c.ruleName)
	if err != nil {
		c.logger.Debug("NAT rule lookup failed", "rule", c.ruleName, "error", err)
		attempts = append(attempts, fmt.Errorf("%s: %w", MethodPreconfigured, err))
	} else if exists {
		c.logger.Info("Adopting pre-configured NAT rule", "rule", c.ruleName)
		c.active = MethodPreconfigured
		c.logEvent(c.active, "established", adapter)
		return c.active, nil
	}

	if err := c.tryKernelNat(); err != nil {
		attempts = append(attempts, fmt.Errorf("%s: %w", MethodKernelNat, err))
	} else {
		c.active = MethodKernelNat
		c.logEvent(c.active, "established", adapter)
		return c.active, nil
	}

	if err := c.trySharing(adapter); err != nil {
		attempts = append(attempts, fmt.Errorf("%s: %w", MethodConnectionSharing, err))
	} else {
		c.active = MethodConnectionSharing
		c.logEvent(c.active, "established", adapter)
		return c.active, nil
	}

	if err := c.tryForwarding(); err != nil {
		attempts = append(attempts, fmt.Errorf("%s: %w", MethodIpForwarding, err))
	} else {
		c.active = MethodIpForwarding
		c.logEvent(c.active, "established", adapter)
		return c.active, nil
	}

	c.logEvent(MethodNone, "failed", errors.Join(attempts...).Error())
	return MethodNone, fmt.Errorf("%w: %w", ErrAllMethodsFailed, errors.Join(attempts...))
}

func (c *Coordinator) tryKernelNat() error {
	if !c.host.Elevated() {
		c.logger.Debug("Skipping kernel NAT, not elevated")
		return ErrPermissionDenied
	}
	// A stale rule left behind under our name blocks creation; the
	// adoption path above has already ruled out a healthy one.
	if err := c.host.RemoveNatRule(c.ruleName, c.subnet); err != nil {
		c.logger.Debug("No stale NAT rule to remove", "rule", c.ruleName, "error", err)
	}
	c.logger.Info("Creating NAT rule", "rule", c.ruleName, "subnet", c.subnet)
	if err := c.host.CreateNatRule(c.ruleName, c.subnet); err != nil {
		if rmErr := c.host.RemoveNatRule(c.ruleName, c.subnet); rmErr != nil {
			c.logger.Debug("Cleanup of partial NAT rule failed", "rule", c.ruleName, "error", rmErr)
		}
		return err
	}
	return nil
}

func (c *Coordinator) trySharing(adapter string) error {
	// The host allows a single sharing relationship at a time; clear any
	// pre-existing one before claiming it for the tethered adapter.
	if err := c.host.DisableSharing(); err != nil {
		c.logger.Debug("No pre-existing sharing to disable", "error", err)
	}
	c.logger.Info("Enabling connection sharing", "adapter", adapter)
	if err := c.host.EnableSharing(adapter); err != nil {
		if dsErr := c.host.DisableSharing(); dsErr != nil {
			c.logger.Debug("Cleanup of partial sharing failed", "error", dsErr)
		}
		return err
	}
	return nil
}

func (c *Coordinator) tryForwarding() error {
	c.logger.Warn("Enabling plain IP forwarding without address translation, connectivity will be degraded")
	if err := c.host.EnableForwarding(); err != nil {
		if dfErr := c.host.DisableForwarding(); dfErr != nil {
			c.logger.Debug("Cleanup of partial forwarding failed", "error", dfErr)
		}
		return err
	}
	return nil
}

// Teardown undoes whatever Establish set up, plus any earlier teardown
// that failed and is still pending. A pre-configured rule is left in
// place since this process does not own it. Teardown is safe to call
// any number of times, including with nothing active.
func (c *Coordinator) Teardown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != MethodNone && c.active != MethodPreconfigured {
		c.pending[c.active] = true
	}
	c.active = MethodNone

	var errs []error
	for method := range c.pending {
		if err := c.undo(method); err != nil {
			c.logger.Warn("Teardown failed, will retry on next teardown",
				"method", method, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", method, err))
			continue
		}
		c.logger.Info("Sharing torn down", "method", method)
		c.logEvent(method, "torn_down", "")
		delete(c.pending, method)
	}

	return errors.Join(errs...)
}

func (c *Coordinator) undo(method Method) error {
	switch method {
	case MethodKernelNat:
		return c.host.RemoveNatRule(c.ruleName, c.subnet)
	case MethodConnectionSharing:
		return c.host.DisableSharing()
	case MethodIpForwarding:
		return c.host.DisableForwarding()
	}
	return nil
}
