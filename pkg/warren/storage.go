package warren

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/shm"
)

// storage resolves where a service's two files live: the YAML descriptor
// under the service directory and the memory segment under the shm
// directory. The descriptor's rename into place is the moment a service
// becomes visible; the segment's exclusive creation is the arbiter when
// several creators race.
type storage struct {
	cfg     *config.Config
	descDir string
	segDir  string
}

func newStorage(cfg *config.Config) *storage {
	return &storage{
		cfg:     cfg,
		descDir: filepath.Join(cfg.Global.RootPath, cfg.Global.Service.Directory),
		segDir:  segmentDir(cfg),
	}
}

// segmentDir places segments in memory-backed /dev/shm when the stock root
// path is in use. A custom root keeps its segments under the root itself, so
// two roots never share a segment namespace.
func segmentDir(cfg *config.Config) string {
	local := filepath.Join(cfg.Global.RootPath, "shm")
	if cfg.Global.RootPath == config.DefaultRootPath {
		return shm.Dir(local)
	}
	return local
}

func (st *storage) descriptorPath(serviceID string) string {
	return filepath.Join(st.descDir, st.cfg.Global.Prefix+serviceID+st.cfg.Global.Service.DescriptorSuffix)
}

func (st *storage) segmentName(serviceID string) string {
	return st.cfg.Global.Prefix + serviceID + st.cfg.Global.Service.SegmentSuffix
}

// descriptorState classifies what is on disk for a service id.
func (st *storage) descriptorState(serviceID string) (exists bool, modTime time.Time) {
	info, err := os.Stat(st.descriptorPath(serviceID))
	if err != nil {
		return false, time.Time{}
	}
	return true, info.ModTime()
}

// writeDescriptor publishes a descriptor atomically: the content lands in a
// temp file first and becomes visible in one rename.
func (st *storage) writeDescriptor(sc *StaticConfig) error {
	if err := os.MkdirAll(st.descDir, 0o755); err != nil {
		return fmt.Errorf("failed to create service directory %s: %w", st.descDir, err)
	}
	data, err := yaml.Marshal(sc)
	if err != nil {
		return fmt.Errorf("failed to marshal service descriptor: %w", err)
	}
	path := st.descriptorPath(sc.ServiceID)
	tmp := path + ".tmp-" + uuid.NewString()[:8]
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write service descriptor: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish service descriptor: %w", err)
	}
	return nil
}

// readDescriptor loads a descriptor. A missing file maps to ErrDoesNotExist,
// an unparseable one to ErrServiceInCorruptedState.
func (st *storage) readDescriptor(serviceID string) (*StaticConfig, error) {
	data, err := os.ReadFile(st.descriptorPath(serviceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrDoesNotExist
		}
		return nil, fmt.Errorf("failed to read service descriptor: %w", err)
	}
	var sc StaticConfig
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse service descriptor: %v", ErrServiceInCorruptedState, err)
	}
	return &sc, nil
}

func (st *storage) removeDescriptor(serviceID string) error {
	if err := os.Remove(st.descriptorPath(serviceID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove service descriptor: %w", err)
	}
	return nil
}

// listServiceIDs returns the ids of every published descriptor, in directory
// order.
func (st *storage) listServiceIDs() ([]string, error) {
	entries, err := os.ReadDir(st.descDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read service directory %s: %w", st.descDir, err)
	}
	prefix := st.cfg.Global.Prefix
	suffix := st.cfg.Global.Service.DescriptorSuffix
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
		if id == "" {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// listSegmentIDs returns the ids of every segment file, in directory order.
// Healthy services appear here and in listServiceIDs; a segment without a
// descriptor is either a creation in progress or a leftover.
func (st *storage) listSegmentIDs() ([]string, error) {
	entries, err := os.ReadDir(st.segDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read segment directory %s: %w", st.segDir, err)
	}
	prefix := st.cfg.Global.Prefix
	suffix := st.cfg.Global.Service.SegmentSuffix
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
		if id == "" {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// removeAll deletes both files of a service, ignoring absence. Used by
// teardown and by purge. Temp descriptors left by a creator that crashed
// mid-publish are swept along.
func (st *storage) removeAll(serviceID string) error {
	if err := st.removeDescriptor(serviceID); err != nil {
		return err
	}
	if stale, err := filepath.Glob(st.descriptorPath(serviceID) + ".tmp-*"); err == nil {
		for _, path := range stale {
			os.Remove(path)
		}
	}
	return shm.Remove(st.segDir, st.segmentName(serviceID))
}
