//go:build !windows && !linux

package nat

import "log/slog"

type stubHost struct{}

// NewHostNetwork on platforms without sharing support returns primitives
// that refuse everything, leaving the coordinator to report failure.
func NewHostNetwork(*slog.Logger) HostNetwork {
	return stubHost{}
}

func (stubHost) Elevated() bool                       { return false }
func (stubHost) NatRuleExists(string) (bool, error)   { return false, ErrNotSupported }
func (stubHost) CreateNatRule(string, string) error   { return ErrNotSupported }
func (stubHost) RemoveNatRule(string, string) error   { return ErrNotSupported }
func (stubHost) EnableSharing(string) error           { return ErrNotSupported }
func (stubHost) DisableSharing() error                { return ErrNotSupported }
func (stubHost) EnableForwarding() error              { return ErrNotSupported }
func (stubHost) DisableForwarding() error             { return ErrNotSupported }
