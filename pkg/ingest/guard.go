package ingest

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// acquireGuard takes the in-flight guard for a document hash. It returns
// acquired=false when another worker already owns the hash. On success the
// returned release func removes the guard; callers must invoke it on every
// exit path.
//
// The guard file records its creation time so a guard leaked by a killed
// process can be reclaimed once it exceeds the staleness TTL. TTL zero
// disables reclamation.
func (c *Coordinator) acquireGuard(sha string) (release func(), acquired bool, err error) {
	path := c.layout.GuardPath(sha)

	if c.staleGuardTTL > 0 {
		if reclaimed, rerr := c.reclaimStaleGuard(path); rerr != nil {
			return nil, false, rerr
		} else if reclaimed {
			c.logger.Warn("reclaimed stale in-flight guard", "hash", sha)
		}
	}

	f, err := c.fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire guard for %s: %w", sha, err)
	}
	_, werr := f.WriteString(c.clock().UTC().Format(time.RFC3339) + "\n")
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = c.fs.Remove(path)
		return nil, false, fmt.Errorf("write guard for %s: %w", sha, errFirst(werr, cerr))
	}

	release = func() {
		if rerr := c.fs.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			c.logger.Error("failed to release in-flight guard", "hash", sha, "error", rerr)
		}
	}
	return release, true, nil
}

// guardHeld reports whether a live (non-stale) guard exists for sha.
func (c *Coordinator) guardHeld(sha string) (bool, error) {
	path := c.layout.GuardPath(sha)
	ok, err := afero.Exists(c.fs, path)
	if err != nil || !ok {
		return false, err
	}
	if c.staleGuardTTL > 0 {
		if stale, _ := c.isStaleGuard(path); stale {
			return false, nil
		}
	}
	return true, nil
}

func (c *Coordinator) reclaimStaleGuard(path string) (bool, error) {
	stale, err := c.isStaleGuard(path)
	if err != nil || !stale {
		return false, err
	}
	if err := c.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("reclaim stale guard %s: %w", path, err)
	}
	return true, nil
}

// isStaleGuard checks the timestamp recorded inside the guard, falling
// back to the file's mtime when the content does not parse.
func (c *Coordinator) isStaleGuard(path string) (bool, error) {
	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	created, perr := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if perr != nil {
		info, serr := c.fs.Stat(path)
		if serr != nil {
			return false, nil
		}
		created = info.ModTime()
	}
	return c.clock().Sub(created) > c.staleGuardTTL, nil
}

func errFirst(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
