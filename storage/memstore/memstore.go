// Package memstore implements storage.Store in memory. Records are held as
// JSON so that callers never share memory with the store.
package memstore

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"sync"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/storage"
)

// New returns a store that provides transient, in-memory storage.
func New() *Store {
	return &Store{
		data: map[string]map[string][]byte{},
	}
}

// Store is an in-memory storage.Store and storage.Transactor.
//
// Transactions are serialized: RunInTx holds an exclusive lock for its
// duration and restores a snapshot of the data if fn fails. Operations issued
// outside a transaction while one is running may observe its uncommitted
// writes.
type Store struct {
	// data[tableName][pk] = JSON
	data map[string]map[string][]byte
	mu   sync.RWMutex

	txMu sync.Mutex
}

type txKey struct{}

// RunInTx implements storage.Transactor.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if owner, ok := ctx.Value(txKey{}).(*Store); ok && owner == s {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snapshot := s.snapshot()
	defer func() {
		if r := recover(); r != nil {
			s.restore(snapshot)
			panic(r)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, s))
}

func (s *Store) snapshot() map[string]map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]map[string][]byte, len(s.data))
	for table, rows := range s.data {
		cp[table] = make(map[string][]byte, len(rows))
		for pk, v := range rows {
			cp[table][pk] = v
		}
	}
	return cp
}

func (s *Store) restore(snapshot map[string]map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = snapshot
}

func (s *Store) Create(_ context.Context, models ...storage.Model) error {
	return s.put(false, models...)
}

func (s *Store) Update(_ context.Context, models ...storage.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := encodeAll(models)
	if err != nil {
		return err
	}
	for _, m := range models {
		if s.data[storage.Name(m)][m.PK()] == nil {
			return errors.Mark(storage.ErrNotFound, 0)
		}
	}
	for i, m := range models {
		s.data[storage.Name(m)][m.PK()] = encoded[i]
	}
	return nil
}

func (s *Store) Upsert(_ context.Context, models ...storage.Model) error {
	return s.put(true, models...)
}

func (s *Store) put(overwrite bool, models ...storage.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := encodeAll(models)
	if err != nil {
		return err
	}
	if !overwrite {
		seen := map[string]bool{}
		for _, m := range models {
			key := storage.Name(m) + "/" + m.PK()
			if s.data[storage.Name(m)][m.PK()] != nil || seen[key] {
				return errors.Mark(storage.ErrAlreadyExists, 0)
			}
			seen[key] = true
		}
	}
	for i, m := range models {
		n := storage.Name(m)
		if s.data[n] == nil {
			s.data[n] = map[string][]byte{}
		}
		s.data[n][m.PK()] = encoded[i]
	}
	return nil
}

func (s *Store) Read(_ context.Context, id string, model storage.Model) error {
	if err := storage.ValidateReceiver(model); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(id, model)
}

func (s *Store) read(id string, model any) error {
	raw := s.data[storage.Name(model)][id]
	if raw == nil {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	if err := json.Unmarshal(raw, model); err != nil {
		return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
	}
	return nil
}

func (s *Store) Exists(_ context.Context, id string, model storage.Model) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[storage.Name(model)][id] != nil, nil
}

func (s *Store) Delete(_ context.Context, model storage.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := storage.Name(model)
	if s.data[n][model.PK()] == nil {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	delete(s.data[n], model.PK())
	return nil
}

// List always performs a full scan of the model's records, returned sorted by
// primary key.
func (s *Store) List(_ context.Context, models any, filter storage.Model) error {
	modelsVal := reflect.ValueOf(models)
	if modelsVal.Kind() != reflect.Ptr || modelsVal.Elem().Kind() != reflect.Slice {
		return errors.Mark(storage.ErrSliceRequired, 0)
	}
	sliceVal := modelsVal.Elem()
	elemType := sliceVal.Type().Elem()
	if elemType != reflect.TypeOf(filter) {
		return errors.Mark(storage.ErrTypeMismatch, 0)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.data[storage.Name(filter)]
	pks := make([]string, 0, len(rows))
	for pk := range rows {
		pks = append(pks, pk)
	}
	sort.Strings(pks)

	fields := storage.FilterFields(filter)
	for _, pk := range pks {
		var doc map[string]any
		if err := json.Unmarshal(rows[pk], &doc); err != nil {
			return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
		}
		if !matches(doc, fields) {
			continue
		}
		elem := reflect.New(elemType)
		if err := s.read(pk, elem.Interface()); err != nil {
			return err
		}
		sliceVal.Set(reflect.Append(sliceVal, elem.Elem()))
	}
	return nil
}

// matches compares filter values against the stored JSON document, so that
// filtering sees exactly what was persisted.
func matches(doc map[string]any, fields []storage.FilterField) bool {
	for _, f := range fields {
		want, err := normalize(f.Value)
		if err != nil || !reflect.DeepEqual(doc[f.Key], want) {
			return false
		}
	}
	return true
}

func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(b, &out)
	return out, err
}

func encodeAll(models []storage.Model) ([][]byte, error) {
	out := make([][]byte, len(models))
	for i, m := range models {
		if err := storage.ValidateReceiver(m); err != nil {
			return nil, err
		}
		b, err := json.Marshal(m)
		if err != nil {
			return nil, errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
		}
		out[i] = b
	}
	return out, nil
}
