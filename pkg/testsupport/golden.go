// Package testsupport holds golden-file helpers shared by package tests.
package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// UpdateEnv names the environment variable that rewrites goldens instead of
// comparing against them.
const UpdateEnv = "UPDATE_GOLDENS"

// Normalize round-trips v through JSON so typed results compare equal to
// decoded goldens.
func Normalize(t testing.TB, v any) any {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("testsupport: marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("testsupport: unmarshal: %v", err)
	}
	return out
}

// IgnoreKeys drops the named map entries from a comparison, for values such as
// content hashes that are asserted elsewhere.
func IgnoreKeys(keys ...string) cmp.Option {
	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		set[key] = struct{}{}
	}
	return cmpopts.IgnoreMapEntries(func(key string, _ any) bool {
		_, ok := set[key]
		return ok
	})
}

// AssertGolden compares got with the JSON golden at path. With UPDATE_GOLDENS
// set the golden is rewritten from got instead.
func AssertGolden(t testing.TB, path string, got any, opts ...cmp.Option) {
	t.Helper()
	got = Normalize(t, got)

	if os.Getenv(UpdateEnv) != "" {
		payload, err := json.MarshalIndent(got, "", "  ")
		if err != nil {
			t.Fatalf("testsupport: marshal golden: %v", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("testsupport: mkdir: %v", err)
		}
		if err := os.WriteFile(path, append(payload, '\n'), 0o644); err != nil {
			t.Fatalf("testsupport: write golden: %v", err)
		}
		return
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("testsupport: read golden %s: %v", path, err)
	}
	var want any
	if err := json.Unmarshal(raw, &want); err != nil {
		t.Fatalf("testsupport: decode golden %s: %v", path, err)
	}
	if diff := cmp.Diff(want, got, opts...); diff != "" {
		t.Errorf("golden mismatch %s (-want +got):\n%s", path, diff)
	}
}
