// Command depscheck verifies the layering between internal packages.
// The codec layers (wire, proto, compress) must stay importable from
// anywhere without dragging in transport or game state, and the game
// world must reach the network only through its narrow interfaces.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

type packageInfo struct {
	ImportPath string
	Imports    []string
}

type rule struct {
	// pkg is the import path the rule constrains.
	pkg string
	// allowed lists the module-internal imports the package may use. A
	// nil slice forbids every module-internal import.
	allowed []string
	// forbidden lists module-internal imports the package must avoid.
	// Only consulted when allowed is unset.
	forbidden []string
}

const modulePrefix = "ironfront/server/"

var rules = []rule{
	{pkg: "ironfront/server/internal/wire"},
	{pkg: "ironfront/server/internal/compress"},
	{pkg: "ironfront/server/internal/metrics"},
	{pkg: "ironfront/server/internal/proto", allowed: []string{
		"ironfront/server/internal/wire",
	}},
	{pkg: "ironfront/server/internal/game", forbidden: []string{
		"ironfront/server/internal/gateway",
	}},
	{pkg: "ironfront/server/internal/replication", forbidden: []string{
		"ironfront/server/internal/gateway",
		"ironfront/server/internal/game",
	}},
}

func main() {
	cmd := exec.Command("go", "list", "-json", "./internal/...")
	cmd.Env = os.Environ()
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Stderr.Write(exitErr.Stderr)
		}
		fmt.Fprintf(os.Stderr, "depscheck: failed to list packages: %v\n", err)
		os.Exit(1)
	}

	decoder := json.NewDecoder(bytes.NewReader(output))

	var violations []string
	for {
		var pkg packageInfo
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			fmt.Fprintf(os.Stderr, "depscheck: failed to decode package info: %v\n", err)
			os.Exit(1)
		}

		for _, imp := range pkg.Imports {
			if bad := violates(pkg.ImportPath, imp); bad {
				violations = append(violations, fmt.Sprintf("%s -> %s", pkg.ImportPath, imp))
			}
		}
	}

	if len(violations) > 0 {
		sort.Strings(violations)
		fmt.Fprintln(os.Stderr, "depscheck: found forbidden imports:")
		for _, violation := range violations {
			fmt.Fprintf(os.Stderr, "  %s\n", violation)
		}
		os.Exit(1)
	}
}

func violates(pkg, imp string) bool {
	if !strings.HasPrefix(imp, modulePrefix) {
		return false
	}
	for _, r := range rules {
		if pkg != r.pkg && !strings.HasPrefix(pkg, r.pkg+"/") {
			continue
		}
		if r.allowed != nil {
			for _, ok := range r.allowed {
				if imp == ok {
					return false
				}
			}
			return true
		}
		if r.forbidden != nil {
			for _, banned := range r.forbidden {
				if imp == banned || strings.HasPrefix(imp, banned+"/") {
					return true
				}
			}
			return false
		}
		return true
	}
	return false
}
