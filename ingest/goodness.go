// Package ingest implements the job-ingestion pipeline (§4.F): directory
// walking, the per-file goodness/predicate checks, the on-disk override
// database, and the two-pass submission that lets a rendezvous-providing
// job register in pass 1 before a Bonjour-dependent job consumes it in
// pass 2.
package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"launchd-go/errors"
)

// checkGoodness implements the §4.F goodness check: the candidate path must
// exist, must not be group/other-writable unless force is set, must be
// owned by root or the running euid, must be a regular file or a
// directory, and (for files) must match *.plist case-insensitively.
func checkGoodness(path string, force bool) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WrapWithDetail(err, errors.ErrInvalid, "goodness", path)
	}

	if !info.IsDir() && !info.Mode().IsRegular() {
		return nil, errors.WrapWithDetail(nil, errors.ErrInvalid, "goodness",
			fmt.Sprintf("%s is neither a regular file nor a directory", path))
	}

	if !force {
		if info.Mode().Perm()&0022 != 0 {
			return nil, errors.WrapWithDetail(errors.ErrUnsafeDescriptionFile, errors.ErrAccess, "goodness",
				fmt.Sprintf("%s is group- or other-writable", path))
		}
		if st, ok := info.Sys().(*syscall.Stat_t); ok {
			euid := os.Geteuid()
			if int(st.Uid) != 0 && int(st.Uid) != euid {
				return nil, errors.WrapWithDetail(errors.ErrUnsafeDescriptionFile, errors.ErrAccess, "goodness",
					fmt.Sprintf("%s is not owned by root or uid %d", path, euid))
			}
		}
	}

	if !info.IsDir() && !strings.EqualFold(filepath.Ext(path), ".plist") {
		return nil, errors.WrapWithDetail(errors.ErrNotAPlist, errors.ErrInvalid, "goodness", path)
	}

	return info, nil
}

// candidateFiles walks roots (directories enumerated one level deep, per
// launchd's own LaunchDaemons/LaunchAgents convention) plus any explicit
// paths, applying checkGoodness to every entry and skipping (logging, not
// failing the whole walk) anything that doesn't pass.
func candidateFiles(roots, explicitPaths []string, force bool) []string {
	var out []string
	seen := make(map[string]bool)

	add := func(path string) {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if seen[abs] {
			return
		}
		seen[abs] = true
		out = append(out, path)
	}

	for _, root := range roots {
		info, err := checkGoodness(root, force)
		if err != nil || !info.IsDir() {
			continue
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			full := filepath.Join(root, e.Name())
			if _, err := checkGoodness(full, force); err != nil {
				continue
			}
			add(full)
		}
	}

	for _, p := range explicitPaths {
		info, err := checkGoodness(p, force)
		if err != nil {
			continue
		}
		if info.IsDir() {
			entries, _ := os.ReadDir(p)
			for _, e := range entries {
				full := filepath.Join(p, e.Name())
				if _, err := checkGoodness(full, force); err == nil {
					add(full)
				}
			}
			continue
		}
		add(p)
	}

	return out
}
