// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

// Package classify maps a filesystem path to a protected browser
// artifact (component A, spec §4.A). Root resolution is
// environment-derived with documented fallbacks so the classifier
// behaves the same whether or not the host has a full user-profile
// environment populated.
package classify

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/aidefender/agent-core/internal/config"
	"github.com/aidefender/agent-core/internal/event"
)

// Roots holds the resolved filesystem roots the classifier compares
// paths against.
type Roots struct {
	LocalAppData string
	AppData      string
}

// ResolveRoots reads LOCALAPPDATA and APPDATA, falling back to the
// Default user profile's AppData\Local and AppData\Roaming paths when
// either is unset (a headless service account may have neither set).
func ResolveRoots() Roots {
	local := os.Getenv("LOCALAPPDATA")
	if local == "" {
		local = filepath.Join(`C:\Users\Default`, "AppData", "Local")
	}
	roaming := os.Getenv("APPDATA")
	if roaming == "" {
		roaming = filepath.Join(`C:\Users\Default`, "AppData", "Roaming")
	}
	return Roots{LocalAppData: local, AppData: roaming}
}

// Classifier classifies filesystem paths against the protected-root
// and leaf-filename tables.
type Classifier struct {
	roots   Roots
	chrome  map[string]bool
	firefox map[string]bool
}

// New builds a Classifier from resolved roots and the configured leaf
// filename tables.
func New(roots Roots, protected config.ProtectedConfig) *Classifier {
	c := &Classifier{
		roots:   roots,
		chrome:  make(map[string]bool, len(protected.ChromeTargets)),
		firefox: make(map[string]bool, len(protected.FirefoxTargets)),
	}
	for _, name := range protected.ChromeTargets {
		c.chrome[strings.ToLower(name)] = true
	}
	for _, name := range protected.FirefoxTargets {
		c.firefox[strings.ToLower(name)] = true
	}
	return c
}

// chromeRoot is the Chrome "User Data" root under %LOCALAPPDATA%.
func (c *Classifier) chromeRoot() string {
	return filepath.Join(c.roots.LocalAppData, "Google", "Chrome", "User Data")
}

// edgeRoot is the Edge "User Data" root under %LOCALAPPDATA%.
func (c *Classifier) edgeRoot() string {
	return filepath.Join(c.roots.LocalAppData, "Microsoft", "Edge", "User Data")
}

// braveRoot is the Brave "User Data" root under %LOCALAPPDATA%.
func (c *Classifier) braveRoot() string {
	return filepath.Join(c.roots.LocalAppData, "BraveSoftware", "Brave-Browser", "User Data")
}

// firefoxRoot is the Firefox profiles root under %APPDATA%.
func (c *Classifier) firefoxRoot() string {
	return filepath.Join(c.roots.AppData, "Mozilla", "Firefox", "Profiles")
}

func hasCaseInsensitivePrefix(path, prefix string) bool {
	p := strings.ToLower(filepath.Clean(path))
	pre := strings.ToLower(filepath.Clean(prefix))
	return strings.HasPrefix(p, pre)
}

// isUnderChromiumRoot reports whether path falls under any of the
// three Chromium-family "User Data" roots (Chrome, Edge, Brave).
func (c *Classifier) isUnderChromiumRoot(path string) bool {
	return hasCaseInsensitivePrefix(path, c.chromeRoot()) ||
		hasCaseInsensitivePrefix(path, c.edgeRoot()) ||
		hasCaseInsensitivePrefix(path, c.braveRoot())
}

// IsUnderProtectedRoot reports whether path falls under any of the
// Chrome, Edge, Brave, or Firefox roots, regardless of leaf filename.
func (c *Classifier) IsUnderProtectedRoot(path string) bool {
	return c.isUnderChromiumRoot(path) || hasCaseInsensitivePrefix(path, c.firefoxRoot())
}

// Classify maps path to a ProtectedTarget, returning TargetNone if the
// path does not match a configured leaf filename under a known root.
func (c *Classifier) Classify(path string) event.ProtectedTarget {
	leaf := strings.ToLower(filepath.Base(path))

	if c.isUnderChromiumRoot(path) && c.chrome[leaf] {
		switch leaf {
		case "login data":
			return event.ChromeLoginData
		case "cookies":
			return event.ChromeCookies
		case "local state":
			return event.ChromeLocalState
		}
	}
	if hasCaseInsensitivePrefix(path, c.firefoxRoot()) && c.firefox[leaf] {
		switch leaf {
		case "logins.json":
			return event.FirefoxLoginsJSON
		case "key4.db":
			return event.FirefoxKey4DB
		case "cookies.sqlite":
			return event.FirefoxCookiesSQLite
		}
	}
	return event.TargetNone
}

// knownBrowserImages lists the image paths (by leaf executable name,
// case-insensitive) whose own access to a protected artifact is
// self-access and must never itself produce a finding.
var knownBrowserImages = map[string]bool{
	"chrome.exe":  true,
	"msedge.exe":  true,
	"brave.exe":   true,
	"firefox.exe": true,
}

// IsKnownBrowserImage reports whether imagePath names one of the
// browsers this classifier protects.
func IsKnownBrowserImage(imagePath string) bool {
	if imagePath == "" {
		return false
	}
	return knownBrowserImages[strings.ToLower(filepath.Base(imagePath))]
}
