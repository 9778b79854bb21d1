// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

package killswitch

import (
	"errors"
	"fmt"
	"strings"
)

// Fixed rule identity (spec §4.F): one group tag, one inbound and one
// outbound rule name. Any rule bearing a matching name under a
// different group tag is not ours and must never be touched.
const (
	GroupTag    = "AI-Defender-KillSwitch"
	RuleNameIn  = "AI-Defender Block Inbound"
	RuleNameOut = "AI-Defender Block Outbound"
)

// ErrBackendUnavailable signals that a backend's initialization or
// activation failed — the actuator should fall back to the next
// backend in line.
var ErrBackendUnavailable = errors.New("killswitch: backend unavailable")

// ErrRuleCollision signals a rule bearing one of our fixed names
// exists under a different group tag. The actuator refuses to touch
// it.
var ErrRuleCollision = errors.New("killswitch: rule name collision with a foreign group tag")

// ErrPermissionDenied signals the backend could not assert or retract
// rules because of insufficient privilege. Unlike ErrBackendUnavailable
// this must never trigger a fallback.
var ErrPermissionDenied = errors.New("killswitch: permission denied")

// Status reports the actuator's view of the current rule set.
type Status struct {
	RulesPresent bool
	BackendUsed  string
}

// Backend is one firewall control surface capable of asserting or
// retracting our two fixed rules.
type Backend interface {
	Name() string
	EnableRules(eff Effector) error
	DisableRules(eff Effector) error
	RulesStatus(eff Effector) (bool, error)
}

// Actuator tries a primary backend and falls back to a secondary only
// when the primary reports itself unavailable (spec §9 "backend
// fallback as tagged variant").
type Actuator struct {
	Primary  Backend
	Fallback Backend
}

// NewActuator builds the actuator with the PowerShell NetSecurity
// backend as primary and netsh advfirewall as fallback.
func NewActuator() *Actuator {
	return &Actuator{Primary: PowerShellBackend{}, Fallback: NetshBackend{}}
}

// EnableRules asserts the two fixed rules, idempotently, and reports
// which backend performed the work.
func (a *Actuator) EnableRules(eff Effector) (Status, error) {
	return a.dispatch(eff, func(b Backend, eff Effector) error { return b.EnableRules(eff) })
}

// DisableRules retracts the two fixed rules.
func (a *Actuator) DisableRules(eff Effector) (Status, error) {
	return a.dispatch(eff, func(b Backend, eff Effector) error { return b.DisableRules(eff) })
}

func (a *Actuator) dispatch(eff Effector, op func(Backend, Effector) error) (Status, error) {
	err := op(a.Primary, eff)
	if err == nil {
		return Status{BackendUsed: a.Primary.Name()}, nil
	}
	if !errors.Is(err, ErrBackendUnavailable) {
		return Status{}, err
	}
	if err := op(a.Fallback, eff); err != nil {
		return Status{}, err
	}
	return Status{BackendUsed: a.Fallback.Name()}, nil
}

// RulesStatus reports whether our rules are currently present,
// consulting the primary backend and falling back the same way.
func (a *Actuator) RulesStatus(eff Effector) (Status, error) {
	present, err := a.Primary.RulesStatus(eff)
	if err == nil {
		return Status{RulesPresent: present, BackendUsed: a.Primary.Name()}, nil
	}
	if !errors.Is(err, ErrBackendUnavailable) {
		return Status{}, err
	}
	present, err = a.Fallback.RulesStatus(eff)
	if err != nil {
		return Status{}, err
	}
	return Status{RulesPresent: present, BackendUsed: a.Fallback.Name()}, nil
}

// PowerShellBackend drives the Windows NetSecurity PowerShell module,
// itself implemented on top of the HNetCfg.FwPolicy2 COM object —
// reaching the same COM-backed policy store as a literal COM binding
// without depending on an ungrounded one (see DESIGN.md).
type PowerShellBackend struct{}

func (PowerShellBackend) Name() string { return "powershell-netsecurity" }

// ruleGroup queries the Group property of the firewall rule named name,
// returning found=false if no such rule exists. This is the ownership
// check spec §4.F and §7 require before EnableRules or DisableRules may
// touch a rule: a rule with a matching name but a foreign group is not
// ours.
func (PowerShellBackend) ruleGroup(eff Effector, name string) (group string, found bool, err error) {
	script := fmt.Sprintf(
		`$r = Get-NetFirewallRule -DisplayName '%s' -ErrorAction SilentlyContinue; if ($r) { $r.Group } else { '' }`,
		name,
	)
	out, err := eff.Run("powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	if err != nil {
		return "", false, classifyPowerShellError(err)
	}
	text := strings.TrimSpace(string(out))
	if text == "" {
		return "", false, nil
	}
	return text, true, nil
}

func (p PowerShellBackend) ensureRule(eff Effector, name, direction string) error {
	group, found, err := p.ruleGroup(eff, name)
	if err != nil {
		return err
	}
	if found {
		if group != GroupTag {
			return ErrRuleCollision
		}
		return nil
	}
	script := fmt.Sprintf(
		`New-NetFirewallRule -DisplayName '%s' -Group '%s' -Direction %s -Action Block -Enabled True -Profile Any -Protocol Any -RemoteAddress Any -LocalAddress Any`,
		name, GroupTag, direction,
	)
	_, err = eff.Run("powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	return classifyPowerShellError(err)
}

func (p PowerShellBackend) EnableRules(eff Effector) error {
	if err := p.ensureRule(eff, RuleNameIn, "Inbound"); err != nil {
		return err
	}
	return p.ensureRule(eff, RuleNameOut, "Outbound")
}

func (p PowerShellBackend) retractRule(eff Effector, name string) error {
	group, found, err := p.ruleGroup(eff, name)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if group != GroupTag {
		return ErrRuleCollision
	}
	script := fmt.Sprintf(`Get-NetFirewallRule -DisplayName '%s' | Remove-NetFirewallRule`, name)
	_, err = eff.Run("powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	return classifyPowerShellError(err)
}

func (p PowerShellBackend) DisableRules(eff Effector) error {
	if err := p.retractRule(eff, RuleNameIn); err != nil {
		return err
	}
	return p.retractRule(eff, RuleNameOut)
}

func (PowerShellBackend) RulesStatus(eff Effector) (bool, error) {
	script := fmt.Sprintf(`(Get-NetFirewallRule -Group '%s' -ErrorAction SilentlyContinue | Measure-Object).Count`, GroupTag)
	out, err := eff.Run("powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	if err != nil {
		return false, classifyPowerShellError(err)
	}
	return strings.TrimSpace(string(out)) != "" && strings.TrimSpace(string(out)) != "0", nil
}

func classifyPowerShellError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "is not recognized") || strings.Contains(msg, "not found") || strings.Contains(msg, "module"):
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	case strings.Contains(msg, "access is denied") || strings.Contains(msg, "permission"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		return err
	}
}

// NetshBackend drives the netsh advfirewall command-line tool, used
// when the PowerShell NetSecurity module is unavailable.
type NetshBackend struct{}

func (NetshBackend) Name() string { return "netsh-advfirewall" }

// ruleGroup queries the existing rule named name, without filtering by
// group, and extracts its "Grouping:" field from netsh's verbose output.
// found=false means no rule with this name exists at all.
func (NetshBackend) ruleGroup(eff Effector, name string) (group string, found bool, err error) {
	out, err := eff.Run("netsh", "advfirewall", "firewall", "show", "rule", "name="+name, "verbose")
	if err != nil {
		msg := strings.ToLower(err.Error() + " " + string(out))
		if strings.Contains(msg, "no rules match") || strings.Contains(msg, "no rule match") {
			return "", false, nil
		}
		return "", false, classifyNetshError(err)
	}
	text := string(out)
	if strings.TrimSpace(text) == "" || strings.Contains(strings.ToLower(text), "no rules match") {
		return "", false, nil
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "Grouping:"); ok {
			return strings.TrimSpace(rest), true, nil
		}
	}
	return "", true, nil
}

// ensureRule asserts one rule, idempotently: a rule already present
// under our group tag is left untouched; a rule present under a
// foreign group tag is a collision and is never modified or deleted
// (spec §4.F, §7).
func (n NetshBackend) ensureRule(eff Effector, name, direction string) error {
	group, found, err := n.ruleGroup(eff, name)
	if err != nil {
		return err
	}
	if found {
		if group != GroupTag {
			return ErrRuleCollision
		}
		return nil
	}
	_, err = eff.Run("netsh", "advfirewall", "firewall", "add", "rule",
		"name="+name, "dir="+direction, "action=block", "enable=yes", "profile=any",
		"group="+GroupTag)
	return classifyNetshError(err)
}

func (n NetshBackend) EnableRules(eff Effector) error {
	if err := n.ensureRule(eff, RuleNameIn, "in"); err != nil {
		return err
	}
	return n.ensureRule(eff, RuleNameOut, "out")
}

func (n NetshBackend) retractRule(eff Effector, name string) error {
	group, found, err := n.ruleGroup(eff, name)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if group != GroupTag {
		return ErrRuleCollision
	}
	_, err = eff.Run("netsh", "advfirewall", "firewall", "delete", "rule", "name="+name, "group="+GroupTag)
	return classifyNetshError(err)
}

func (n NetshBackend) DisableRules(eff Effector) error {
	if err := n.retractRule(eff, RuleNameIn); err != nil {
		return err
	}
	return n.retractRule(eff, RuleNameOut)
}

func (n NetshBackend) RulesStatus(eff Effector) (bool, error) {
	group, found, err := n.ruleGroup(eff, RuleNameIn)
	if err != nil {
		return false, err
	}
	return found && group == GroupTag, nil
}

func classifyNetshError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "is not recognized") || strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	case strings.Contains(msg, "access is denied") || strings.Contains(msg, "permission"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		return err
	}
}
