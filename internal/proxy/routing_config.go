package proxy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteRoutingConfig renders the current upstream set as a routing block for
// an external proxy process to consume at reload. The file is written
// atomically via rename so a reloading proxy never sees a half-written block.
func WriteRoutingConfig(path, appName string, upstreams []string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "upstream %s {\n", appName)
	for _, addr := range upstreams {
		fmt.Fprintf(&b, "    server %s;\n", addr)
	}
	b.WriteString("}\n")

	tmp, err := os.CreateTemp(filepath.Dir(path), ".routing-*")
	if err != nil {
		return fmt.Errorf("failed to create routing config temp file: %v", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write routing config: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close routing config: %v", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to publish routing config: %v", err)
	}
	return nil
}
