package cache

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/ZanzyTHEbar/calcgraph/internal/plan"
)

// RecordStore is a file-backed store of serialized plan records, keyed by
// the flat JoinKeys cache key. It lets an engine reload and relink
// previously compiled plans across process restarts. All writes go through
// the store's mutex; every Put rewrites the backing file.
type RecordStore struct {
	records  map[string]*plan.Record
	mutex    sync.RWMutex
	filePath string
	logger   Logger
}

// NewRecordStore opens (or creates on first Put) the store at filePath and
// loads any existing records. A corrupt or unreadable file is treated as
// empty and logged, not fatal: persisted plans are an optimization, never
// the source of truth.
func NewRecordStore(filePath string, logger Logger) *RecordStore {
	if logger == nil {
		logger = &StdLogger{}
	}
	s := &RecordStore{
		records:  make(map[string]*plan.Record),
		filePath: filePath,
		logger:   logger,
	}
	s.loadFromFile()
	return s
}

func (s *RecordStore) loadFromFile() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("plan record store unreadable, starting empty", map[string]interface{}{
				"path":  s.filePath,
				"error": err.Error(),
			})
		}
		return
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		s.logger.Warn("plan record store corrupt, starting empty", map[string]interface{}{
			"path":  s.filePath,
			"error": err.Error(),
		})
		s.records = make(map[string]*plan.Record)
	}
}

func (s *RecordStore) saveToFile() error {
	data, err := json.Marshal(s.records)
	if err != nil {
		return err
	}
	return os.WriteFile(s.filePath, data, 0o644)
}

// Put stores a record under the key pair and rewrites the backing file.
func (s *RecordStore) Put(returnsKey, paramsKey string, rec *plan.Record) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.records[JoinKeys(returnsKey, paramsKey)] = rec
	if err := s.saveToFile(); err != nil {
		s.logger.Error("failed to persist plan record", map[string]interface{}{
			"path":  s.filePath,
			"error": err.Error(),
		})
		return err
	}
	return nil
}

// All returns a copy of the stored records keyed by flat cache key.
func (s *RecordStore) All() map[string]*plan.Record {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make(map[string]*plan.Record, len(s.records))
	for key, rec := range s.records {
		out[key] = rec
	}
	return out
}

// Len returns the number of stored records.
func (s *RecordStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.records)
}
