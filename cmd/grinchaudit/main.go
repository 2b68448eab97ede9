// grinchaudit is a completeness checker for the syscall dispatch table,
// SPEC_FULL.md §2.1: it loads the module's type and syntax information
// with golang.org/x/tools/go/packages (the same loader
// SeleniaProject-Orizon's mockgen tool in the retrieval pack uses to
// find an interface by name across a source tree) and reports any
// defs.SYS_* constant that syscall.table never keys, so a newly added
// syscall number is never silently left undispatched.
package main

import (
	"fmt"
	"go/ast"
	"go/types"
	"os"
	"sort"
	"strings"

	"golang.org/x/tools/go/packages"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "grinchaudit:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
			packages.NeedTypes | packages.NeedTypesInfo | packages.NeedSyntax,
	}
	pkgs, err := packages.Load(cfg, "grinch/defs", "grinch/syscall")
	if err != nil {
		return err
	}
	if packages.PrintErrors(pkgs) > 0 {
		return fmt.Errorf("failed to load grinch/defs and grinch/syscall")
	}

	var defsPkg, syscallPkg *packages.Package
	for _, p := range pkgs {
		switch p.PkgPath {
		case "grinch/defs":
			defsPkg = p
		case "grinch/syscall":
			syscallPkg = p
		}
	}
	if defsPkg == nil || syscallPkg == nil {
		return fmt.Errorf("could not locate grinch/defs or grinch/syscall in loaded packages")
	}

	declared := syscallConstants(defsPkg)
	dispatched, err := tableKeys(syscallPkg)
	if err != nil {
		return err
	}

	var missing []string
	for name := range declared {
		if !dispatched[name] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	if len(missing) == 0 {
		fmt.Println("grinchaudit: every defs.SYS_* constant has a syscall.table entry")
		return nil
	}
	fmt.Printf("grinchaudit: %d syscall number(s) declared but never dispatched:\n", len(missing))
	for _, name := range missing {
		fmt.Println("  defs." + name)
	}
	return fmt.Errorf("incomplete syscall table")
}

// syscallConstants returns every exported SYS_-prefixed constant name
// defs declares (spec.md §6's syscall ABI listing).
func syscallConstants(pkg *packages.Package) map[string]bool {
	out := map[string]bool{}
	scope := pkg.Types.Scope()
	for _, name := range scope.Names() {
		if !strings.HasPrefix(name, "SYS_") {
			continue
		}
		if _, ok := scope.Lookup(name).(*types.Const); ok {
			out[name] = true
		}
	}
	return out
}

// tableKeys walks syscall.go's AST for the package-level "table"
// variable's composite literal and collects the SYS_* identifier each
// key selector references. Reading syntax rather than evaluating the
// map at runtime lets this tool run over source alone, with no need to
// build or execute the kernel it is auditing.
func tableKeys(pkg *packages.Package) (map[string]bool, error) {
	out := map[string]bool{}
	found := false
	for _, file := range pkg.Syntax {
		ast.Inspect(file, func(n ast.Node) bool {
			spec, ok := n.(*ast.ValueSpec)
			if !ok || len(spec.Names) != 1 || spec.Names[0].Name != "table" {
				return true
			}
			if len(spec.Values) != 1 {
				return true
			}
			lit, ok := spec.Values[0].(*ast.CompositeLit)
			if !ok {
				return true
			}
			found = true
			for _, elt := range lit.Elts {
				kv, ok := elt.(*ast.KeyValueExpr)
				if !ok {
					continue
				}
				sel, ok := kv.Key.(*ast.SelectorExpr)
				if !ok {
					continue
				}
				out[sel.Sel.Name] = true
			}
			return false
		})
	}
	if !found {
		return nil, fmt.Errorf("syscall package has no package-level %q composite literal", "table")
	}
	return out, nil
}
