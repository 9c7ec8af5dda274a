package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// supportedBundleRange is the bundle schema range this build understands.
// Loading a bundle outside the range is a startup failure, not a silent
// downgrade.
const supportedBundleRange = ">= 1.0.0, < 2.0.0"

// LoadBundle reads a policy bundle from a .yaml/.yml or .json file and
// verifies its version against the supported range.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read bundle %s: %w", path, err)
	}

	var bundle Bundle
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &bundle); err != nil {
			return nil, fmt.Errorf("policy: parse bundle %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &bundle); err != nil {
			return nil, fmt.Errorf("policy: parse bundle %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("policy: unsupported bundle extension %q", ext)
	}

	if bundle.Name == "" {
		bundle.Name = filepath.Base(path)
	}
	if err := checkBundleVersion(bundle.Version); err != nil {
		return nil, fmt.Errorf("policy: bundle %s: %w", path, err)
	}
	return &bundle, nil
}

func checkBundleVersion(version string) error {
	if version == "" {
		return fmt.Errorf("missing bundle version")
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid bundle version %q: %w", version, err)
	}
	constraint, err := semver.NewConstraint(supportedBundleRange)
	if err != nil {
		return fmt.Errorf("invalid supported range: %w", err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("bundle version %s outside supported range %s", version, supportedBundleRange)
	}
	return nil
}
