package datasets

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FindRecordFiles lists the regular files in dir whose names match pattern.
// Matching is non-recursive: "*" stays within one path segment and "**" is
// not expanded across directories. It returns ErrNotFound when nothing
// matches.
func FindRecordFiles(dir, pattern string) ([]string, error) {
	glob := filepath.Join(dir, pattern)
	matches, err := filepath.Glob(glob)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to glob pattern %s", glob)
	}

	files := matches[:0]
	var total int64
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to stat %s", path)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		files = append(files, path)
		total += info.Size()
	}
	if len(files) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "pattern %q in %s", pattern, dir)
	}
	sort.Strings(files)
	klog.V(1).Infof("found %d record files matching %s (%s)", len(files), glob, humanize.Bytes(uint64(total)))
	return files, nil
}
