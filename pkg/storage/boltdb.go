package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/greenprompt/registry/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketWrappers     = []byte("llm_wrapper")
	bucketRequests     = []byte("llm_request")
	bucketMeasurements = []byte("measurements")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		return createBuckets(tx)
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func createBuckets(tx *bolt.Tx) error {
	for _, bucket := range [][]byte{bucketWrappers, bucketRequests, bucketMeasurements} {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Reset drops and recreates the schema. Only meant to run at process start,
// gated behind the reset_on_boot configuration flag.
func (s *BoltStore) Reset() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketWrappers, bucketRequests, bucketMeasurements} {
			if err := tx.DeleteBucket(bucket); err != nil && err != bolt.ErrBucketNotFound {
				return fmt.Errorf("failed to drop bucket %s: %w", bucket, err)
			}
		}
		return createBuckets(tx)
	})
}

func itok(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}

// Wrapper operations

// AddWrapper inserts a wrapper and assigns its id from the bucket sequence.
// The address is a unique key; inserting a duplicate address is an error.
func (s *BoltStore) AddWrapper(wrapper *types.Wrapper) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWrappers)

		var duplicate bool
		err := b.ForEach(func(k, v []byte) error {
			var w types.Wrapper
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			if w.Address == wrapper.Address {
				duplicate = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if duplicate {
			return fmt.Errorf("wrapper with address %s already exists", wrapper.Address)
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		wrapper.ID = int64(seq)

		data, err := json.Marshal(wrapper)
		if err != nil {
			return err
		}
		return b.Put(itok(wrapper.ID), data)
	})
}

func (s *BoltStore) GetWrapper(id int64) (*types.Wrapper, error) {
	var wrapper types.Wrapper
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWrappers).Get(itok(id))
		if data == nil {
			return fmt.Errorf("wrapper %d: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &wrapper)
	})
	if err != nil {
		return nil, err
	}
	return &wrapper, nil
}

func (s *BoltStore) GetWrapperByAddress(address string) (*types.Wrapper, error) {
	var found *types.Wrapper
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWrappers).ForEach(func(k, v []byte) error {
			var w types.Wrapper
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			if w.Address == address {
				found = &w
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("wrapper with address %s: %w", address, ErrNotFound)
	}
	return found, nil
}

func (s *BoltStore) ListWrappers() ([]*types.Wrapper, error) {
	return s.listWrappers(func(*types.Wrapper) bool { return true })
}

func (s *BoltStore) ListWrappersByStatus(status types.WrapperStatus) ([]*types.Wrapper, error) {
	return s.listWrappers(func(w *types.Wrapper) bool { return w.Status == status })
}

func (s *BoltStore) ListWrappersByLLM(llm string) ([]*types.Wrapper, error) {
	return s.listWrappers(func(w *types.Wrapper) bool { return w.LLM == llm })
}

func (s *BoltStore) ListWrappersByConfig(config string, status types.WrapperStatus) ([]*types.Wrapper, error) {
	return s.listWrappers(func(w *types.Wrapper) bool {
		return w.LLMConfig == config && w.Status == status
	})
}

// listWrappers returns matching wrappers ordered by id ascending. The
// dispatch loop relies on that order for candidate tie-breaking.
func (s *BoltStore) listWrappers(match func(*types.Wrapper) bool) ([]*types.Wrapper, error) {
	var wrappers []*types.Wrapper
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWrappers).ForEach(func(k, v []byte) error {
			var w types.Wrapper
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			if match(&w) {
				wrappers = append(wrappers, &w)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(wrappers, func(i, j int) bool { return wrappers[i].ID < wrappers[j].ID })
	return wrappers, nil
}

func (s *BoltStore) SetWrapperStatus(id int64, status types.WrapperStatus) error {
	return s.updateWrapper(id, func(w *types.Wrapper) {
		w.Status = status
	})
}

func (s *BoltStore) SetWrapperStatusByAddress(address string, status types.WrapperStatus) error {
	wrapper, err := s.GetWrapperByAddress(address)
	if err != nil {
		return err
	}
	return s.SetWrapperStatus(wrapper.ID, status)
}

func (s *BoltStore) SetWrapperConfig(id int64, config string) error {
	return s.updateWrapper(id, func(w *types.Wrapper) {
		w.LLMConfig = config
	})
}

func (s *BoltStore) updateWrapper(id int64, mutate func(*types.Wrapper)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWrappers)
		data := b.Get(itok(id))
		if data == nil {
			return fmt.Errorf("wrapper %d: %w", id, ErrNotFound)
		}
		var w types.Wrapper
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		mutate(&w)
		updated, err := json.Marshal(&w)
		if err != nil {
			return err
		}
		return b.Put(itok(id), updated)
	})
}

// Request operations

// AddRequest inserts a request with status queued and no bound address.
func (s *BoltStore) AddRequest(id, config string, measurementID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRequests)
		if b.Get([]byte(id)) != nil {
			return fmt.Errorf("request %s already exists", id)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		request := types.Request{
			ID:            id,
			LLMConfig:     config,
			Status:        types.RequestStatusQueued,
			MeasurementID: measurementID,
			Seq:           seq,
		}
		data, err := json.Marshal(&request)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

func (s *BoltStore) GetRequest(id string) (*types.Request, error) {
	var request types.Request
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRequests).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("request %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &request)
	})
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (s *BoltStore) ListRequestsByMeasurement(measurementID int64) ([]*types.Request, error) {
	return s.listRequests(func(r *types.Request) bool { return r.MeasurementID == measurementID })
}

func (s *BoltStore) ListRequestsByStatus(status types.RequestStatus) ([]*types.Request, error) {
	return s.listRequests(func(r *types.Request) bool { return r.Status == status })
}

// NextQueuedRequest returns the oldest queued request of a measurement, or
// ErrNotFound when the measurement has none left.
func (s *BoltStore) NextQueuedRequest(measurementID int64) (*types.Request, error) {
	requests, err := s.listRequests(func(r *types.Request) bool {
		return r.MeasurementID == measurementID && r.Status == types.RequestStatusQueued
	})
	if err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return nil, fmt.Errorf("no queued request for measurement %d: %w", measurementID, ErrNotFound)
	}
	return requests[0], nil
}

// listRequests returns matching requests in insertion order.
func (s *BoltStore) listRequests(match func(*types.Request) bool) ([]*types.Request, error) {
	var requests []*types.Request
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRequests).ForEach(func(k, v []byte) error {
			var r types.Request
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if match(&r) {
				requests = append(requests, &r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].Seq < requests[j].Seq })
	return requests, nil
}

// SetRequestAddress binds a request to a wrapper host. The address write and
// the transition to deployed commit as one update.
func (s *BoltStore) SetRequestAddress(id, address string) error {
	return s.updateRequest(id, func(r *types.Request) {
		r.Address = address
		r.Status = types.RequestStatusDeployed
	})
}

func (s *BoltStore) SetRequestStatus(id string, status types.RequestStatus) error {
	return s.updateRequest(id, func(r *types.Request) {
		r.Status = status
	})
}

func (s *BoltStore) updateRequest(id string, mutate func(*types.Request)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRequests)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("request %s: %w", id, ErrNotFound)
		}
		var r types.Request
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		mutate(&r)
		updated, err := json.Marshal(&r)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
}

// Measurement operations

// AddMeasurement inserts a measurement with status deployments_pending.
// Inserting an id that already exists is a no-op.
func (s *BoltStore) AddMeasurement(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeasurements)
		if b.Get(itok(id)) != nil {
			return nil
		}
		measurement := types.Measurement{
			ID:     id,
			Status: types.MeasurementStatusDeploymentsPending,
		}
		data, err := json.Marshal(&measurement)
		if err != nil {
			return err
		}
		return b.Put(itok(id), data)
	})
}

func (s *BoltStore) GetMeasurement(id int64) (*types.Measurement, error) {
	var measurement types.Measurement
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeasurements).Get(itok(id))
		if data == nil {
			return fmt.Errorf("measurement %d: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &measurement)
	})
	if err != nil {
		return nil, err
	}
	return &measurement, nil
}

func (s *BoltStore) ListMeasurementsByStatus(status types.MeasurementStatus) ([]*types.Measurement, error) {
	var measurements []*types.Measurement
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeasurements).ForEach(func(k, v []byte) error {
			var m types.Measurement
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.Status == status {
				measurements = append(measurements, &m)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(measurements, func(i, j int) bool { return measurements[i].ID < measurements[j].ID })
	return measurements, nil
}

func (s *BoltStore) SetMeasurementWrapper(id, wrapperID int64) error {
	return s.updateMeasurement(id, func(m *types.Measurement) {
		m.WrapperID = wrapperID
	})
}

func (s *BoltStore) SetMeasurementStatus(id int64, status types.MeasurementStatus) error {
	return s.updateMeasurement(id, func(m *types.Measurement) {
		m.Status = status
	})
}

func (s *BoltStore) updateMeasurement(id int64, mutate func(*types.Measurement)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeasurements)
		data := b.Get(itok(id))
		if data == nil {
			return fmt.Errorf("measurement %d: %w", id, ErrNotFound)
		}
		var m types.Measurement
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		mutate(&m)
		updated, err := json.Marshal(&m)
		if err != nil {
			return err
		}
		return b.Put(itok(id), updated)
	})
}

// FindBestDeployments joins queued requests against ready wrappers holding
// the identical configuration, restricted to measurements with no bound
// wrapper. Each wrapper and each measurement appears in at most one returned
// pair, so the whole batch can be dispatched without conflicts.
func (s *BoltStore) FindBestDeployments() ([]*Deployment, error) {
	var deployments []*Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		var queued []*types.Request
		err := tx.Bucket(bucketRequests).ForEach(func(k, v []byte) error {
			var r types.Request
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.Status == types.RequestStatusQueued {
				queued = append(queued, &r)
			}
			return nil
		})
		if err != nil {
			return err
		}
		sort.Slice(queued, func(i, j int) bool { return queued[i].Seq < queued[j].Seq })

		var ready []*types.Wrapper
		err = tx.Bucket(bucketWrappers).ForEach(func(k, v []byte) error {
			var w types.Wrapper
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			if w.Status == types.WrapperStatusReady {
				ready = append(ready, &w)
			}
			return nil
		})
		if err != nil {
			return err
		}
		sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })

		measurements := tx.Bucket(bucketMeasurements)
		usedWrappers := make(map[int64]bool)
		usedMeasurements := make(map[int64]bool)

		for _, request := range queued {
			if usedMeasurements[request.MeasurementID] {
				continue
			}
			data := measurements.Get(itok(request.MeasurementID))
			if data == nil {
				continue
			}
			var m types.Measurement
			if err := json.Unmarshal(data, &m); err != nil {
				return err
			}
			if m.WrapperID != 0 {
				continue
			}
			for _, wrapper := range ready {
				if usedWrappers[wrapper.ID] || wrapper.LLMConfig != request.LLMConfig {
					continue
				}
				deployments = append(deployments, &Deployment{Request: request, Wrapper: wrapper})
				usedWrappers[wrapper.ID] = true
				usedMeasurements[request.MeasurementID] = true
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deployments, nil
}
