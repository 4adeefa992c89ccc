package logstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"strconv"

	"github.com/c360/takstreams/errors"
	"github.com/c360/takstreams/natsclient"
)

// KVStore writes items to a NATS JetStream KV bucket under "<layer>.<id>"
type KVStore struct {
	kv *natsclient.KVStore
}

// NewKVStore wraps a bucket store
func NewKVStore(kv *natsclient.KVStore) *KVStore {
	return &KVStore{kv: kv}
}

// Key returns the bucket key for an item. Ids with characters KV keys do not
// allow are base64url encoded.
func Key(layer int64, id string) string {
	return strconv.FormatInt(layer, 10) + "." + keyToken(id)
}

func keyToken(id string) string {
	if id == "" {
		return "_"
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '=':
		default:
			return "b64_" + base64.RawURLEncoding.EncodeToString([]byte(id))
		}
	}
	return id
}

// Put writes every item. Items are independent; all are attempted and the
// errors are joined.
func (s *KVStore) Put(ctx context.Context, items []Item) error {
	var errs []error
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			errs = append(errs, errors.WrapInvalid(err, "KVStore", "Put", "encode item "+item.ID))
			continue
		}
		if _, err := s.kv.Put(ctx, Key(item.Layer, item.ID), raw); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Get reads back a single item
func (s *KVStore) Get(ctx context.Context, layer int64, id string) (Item, error) {
	var item Item
	entry, err := s.kv.Get(ctx, Key(layer, id))
	if err != nil {
		return item, err
	}
	if err := json.Unmarshal(entry.Value, &item); err != nil {
		return item, errors.WrapInvalid(err, "KVStore", "Get", "decode item")
	}
	return item, nil
}

// Layer lists the item keys stored for a layer
func (s *KVStore) Layer(ctx context.Context, layer int64) ([]string, error) {
	return s.kv.Keys(ctx, strconv.FormatInt(layer, 10)+".")
}
