package watcher

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/JohnPreston/credproxy/internal/config"
	"github.com/JohnPreston/credproxy/internal/credential"
	"github.com/JohnPreston/credproxy/internal/log"
	"github.com/JohnPreston/credproxy/internal/metrics"
)

// watchedDir pairs a directory spec with its compiled filter and the origin
// tag its entries carry in the table.
type watchedDir struct {
	spec   config.DirectoryConfig
	filter *Filter
	origin string
}

// Reconciler diffs the current contents of the watched directories against
// the dynamic entries the table holds for them. Entries owned by other
// directories, and static entries, are never touched.
type Reconciler struct {
	table    *credential.Table
	defaults *config.SourceCredentials
	dirs     []watchedDir
}

// NewReconciler builds a reconciler over the configured directories.
func NewReconciler(dirs []config.DirectoryConfig, defaults *config.SourceCredentials, table *credential.Table) *Reconciler {
	r := &Reconciler{table: table, defaults: defaults}
	for _, spec := range dirs {
		r.dirs = append(r.dirs, watchedDir{
			spec:   spec,
			filter: NewFilter(spec.IncludePatterns, spec.ExcludePatterns),
			origin: credential.DirectoryOrigin(spec.Path),
		})
	}
	return r
}

// ReconcileAll runs one reconciliation pass over every watched directory.
func (r *Reconciler) ReconcileAll() {
	for _, dir := range r.dirs {
		r.reconcileDir(dir)
	}
}

// reconcileDir applies one directory's desired service set to the table:
// new names register, changed definitions are stopped and restarted with
// the new parameters, disappeared names are removed. A collision with an
// entry registered elsewhere rejects the definition and leaves the table
// unchanged (first registered wins).
func (r *Reconciler) reconcileDir(dir watchedDir) {
	desired := r.desiredSet(dir)
	owned := r.table.DefinitionsForOrigin(dir.origin)

	for name, def := range desired {
		current, ok := owned[name]
		if !ok {
			if err := r.table.Register(def); err != nil {
				var collision *credential.CollisionError
				if errors.As(err, &collision) {
					log.Warn("dynamic service rejected",
						"service", name, "directory", dir.spec.Path, "reason", collision.Error())
					metrics.RecordReconcile(dir.spec.Path, "rejected")
					continue
				}
				log.Error("dynamic service registration failed",
					"service", name, "directory", dir.spec.Path, "error", err)
				continue
			}
			metrics.RecordReconcile(dir.spec.Path, "added")
			continue
		}

		if def.Equal(current) {
			// Content unchanged (an mtime-only touch): keep the running
			// entry and its cached credentials.
			continue
		}
		if err := r.table.Replace(def); err != nil {
			log.Warn("dynamic service update rejected",
				"service", name, "directory", dir.spec.Path, "error", err)
			metrics.RecordReconcile(dir.spec.Path, "rejected")
			continue
		}
		metrics.RecordReconcile(dir.spec.Path, "changed")
	}

	for name := range owned {
		if _, ok := desired[name]; !ok {
			r.table.Unregister(name)
			metrics.RecordReconcile(dir.spec.Path, "removed")
		}
	}
}

// desiredSet lists the directory, filters the files, and parses the
// survivors into the desired name -> definition mapping. A file that fails
// to parse is skipped with an error against that file only. When two files
// in the same pass define the same name, the first (in directory order)
// wins.
func (r *Reconciler) desiredSet(dir watchedDir) map[string]config.ServiceDefinition {
	desired := make(map[string]config.ServiceDefinition)

	files, err := os.ReadDir(dir.spec.Path)
	if err != nil {
		log.Error("listing watch directory failed", "directory", dir.spec.Path, "error", err)
		return desired
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		path := filepath.Join(dir.spec.Path, file.Name())
		if !dir.filter.Match(path) {
			continue
		}

		defs, err := LoadServiceFile(path, r.defaults, dir.origin)
		if err != nil {
			log.Error("skipping service file", "file", path, "error", err)
			continue
		}
		for _, def := range defs {
			if _, ok := desired[def.Name]; ok {
				log.Warn("duplicate service name within directory, keeping first",
					"service", def.Name, "file", path)
				continue
			}
			desired[def.Name] = def
		}
	}
	return desired
}
