// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

package classify

import (
	"path/filepath"
	"testing"

	"github.com/aidefender/agent-core/internal/config"
	"github.com/aidefender/agent-core/internal/event"
)

func testClassifier() *Classifier {
	roots := Roots{
		LocalAppData: `C:\Users\alice\AppData\Local`,
		AppData:      `C:\Users\alice\AppData\Roaming`,
	}
	return New(roots, config.DefaultConfig().Protected)
}

func TestClassifyChromeTargets(t *testing.T) {
	c := testClassifier()

	cases := map[string]event.ProtectedTarget{
		`C:\Users\alice\AppData\Local\Google\Chrome\User Data\Default\Login Data`: event.ChromeLoginData,
		`C:\Users\alice\AppData\Local\Google\Chrome\User Data\Default\Cookies`:    event.ChromeCookies,
		`C:\Users\alice\AppData\Local\Google\Chrome\User Data\Local State`:        event.ChromeLocalState,
	}
	for path, want := range cases {
		if got := c.Classify(path); got != want {
			t.Errorf("Classify(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestClassifyEdgeAndBraveTargets(t *testing.T) {
	c := testClassifier()

	cases := map[string]event.ProtectedTarget{
		`C:\Users\alice\AppData\Local\Microsoft\Edge\User Data\Default\Login Data`:             event.ChromeLoginData,
		`C:\Users\alice\AppData\Local\Microsoft\Edge\User Data\Default\Cookies`:                 event.ChromeCookies,
		`C:\Users\alice\AppData\Local\BraveSoftware\Brave-Browser\User Data\Default\Login Data`: event.ChromeLoginData,
		`C:\Users\alice\AppData\Local\BraveSoftware\Brave-Browser\User Data\Default\Cookies`:    event.ChromeCookies,
	}
	for path, want := range cases {
		if got := c.Classify(path); got != want {
			t.Errorf("Classify(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestIsUnderProtectedRootCoversEdgeAndBrave(t *testing.T) {
	c := testClassifier()
	if !c.IsUnderProtectedRoot(`C:\Users\alice\AppData\Local\Microsoft\Edge\User Data\Default\Some Random File`) {
		t.Error("expected path under Edge root to be under protected root")
	}
	if !c.IsUnderProtectedRoot(`C:\Users\alice\AppData\Local\BraveSoftware\Brave-Browser\User Data\Default\Some Random File`) {
		t.Error("expected path under Brave root to be under protected root")
	}
}

func TestClassifyFirefoxTargets(t *testing.T) {
	c := testClassifier()
	path := filepath.Join(`C:\Users\alice\AppData\Roaming`, "Mozilla", "Firefox", "Profiles", "abc.default", "logins.json")
	if got := c.Classify(path); got != event.FirefoxLoginsJSON {
		t.Errorf("Classify(%q) = %v, want FirefoxLoginsJson", path, got)
	}
}

func TestClassifyUnrelatedPathIsNone(t *testing.T) {
	c := testClassifier()
	if got := c.Classify(`C:\Temp\evil.exe`); got != event.TargetNone {
		t.Errorf("Classify(unrelated) = %v, want TargetNone", got)
	}
}

func TestClassifyIsCaseInsensitive(t *testing.T) {
	c := testClassifier()
	path := `c:\users\alice\appdata\local\google\chrome\user data\default\LOGIN DATA`
	if got := c.Classify(path); got != event.ChromeLoginData {
		t.Errorf("Classify(case-varied) = %v, want ChromeLoginData", got)
	}
}

func TestIsUnderProtectedRoot(t *testing.T) {
	c := testClassifier()
	if !c.IsUnderProtectedRoot(`C:\Users\alice\AppData\Local\Google\Chrome\User Data\Default\Some Random File`) {
		t.Error("expected path under Chrome root to be under protected root")
	}
	if c.IsUnderProtectedRoot(`C:\Temp\evil.exe`) {
		t.Error("expected unrelated path to not be under protected root")
	}
}

func TestIsKnownBrowserImage(t *testing.T) {
	if !IsKnownBrowserImage(`C:\Program Files\Google\Chrome\Application\chrome.exe`) {
		t.Error("expected chrome.exe to be a known browser image")
	}
	if IsKnownBrowserImage(`C:\Temp\evil.exe`) {
		t.Error("expected evil.exe to not be a known browser image")
	}
	if IsKnownBrowserImage("") {
		t.Error("expected empty image path to not be a known browser image")
	}
}
