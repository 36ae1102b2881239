// Package bootstrap holds the wiring shared by the three gateway role
// mains (cmd/syndicate-ug, cmd/syndicate-rg, cmd/syndicate-ag): building
// a driver.Pool from the configured driver executables and opening the
// log destination.
// Nothing here is role-specific; each main supplies its own Handler and
// decides which driver roles it needs.
package bootstrap

import (
	"fmt"
	"os"

	"github.com/syndicate-storage/syndicate-sub005/driver"
	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/metrics"
)

// DriverSpec names the executable backing one driver role; how many
// worker processes to fork is NewDriverPool's poolSize argument.
type DriverSpec struct {
	Role string
	Path string
}

// NewDriverPool forks poolSize processes per non-empty DriverSpec.Path
// and registers each as a role group (spec §4.4: "a fixed pool of child
// processes forked from a driver executable"). A spec whose Path is
// empty is skipped, leaving that role to report errs.DriverAbsent, the
// contract chunk.Codec and the gateway handlers already treat as
// identity/no-op where the spec allows it.
func NewDriverPool(specs []DriverSpec, poolSize int, m *metrics.Registry) (*driver.Pool, error) {
	if poolSize <= 0 {
		poolSize = 1
	}
	pool := driver.NewPool(m)
	for _, spec := range specs {
		if spec.Path == "" {
			continue
		}
		conns := make([]driver.Conn, 0, poolSize)
		for i := 0; i < poolSize; i++ {
			conn, err := driver.StartProcess(spec.Path, spec.Role)
			if err != nil {
				for _, c := range conns {
					_ = c.Close()
				}
				return nil, errs.New("bootstrap.NewDriverPool", errs.DriverError,
					fmt.Errorf("starting %s driver %q worker %d: %w", spec.Role, spec.Path, i, err))
			}
			conns = append(conns, conn)
		}
		pool.AddGroup(spec.Role, conns)
	}
	return pool, nil
}

// OpenLogWriter opens the log destination at path. Spec §1 names logfile
// rollover/upload as an external collaborator; this just opens the file
// the operator configured (or stderr, the default) for appending.
func OpenLogWriter(path string) (*os.File, error) {
	if path == "" {
		return os.Stderr, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errs.New("bootstrap.OpenLogWriter", errs.IOError, err)
	}
	return f, nil
}
