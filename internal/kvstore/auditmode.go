package kvstore

import "context"

const auditModeKey = "sentinel:audit_mode"

// AuditModeStore persists the policy engine's AuditMode flag (spec §3, §6).
// When unset in the backing store, audit mode defaults to true: the core
// starts observing before it starts blocking.
type AuditModeStore struct {
	store Store
}

func NewAuditModeStore(store Store) *AuditModeStore {
	return &AuditModeStore{store: store}
}

// Get returns the persisted AuditMode value, defaulting to true (audit)
// when the key has never been set.
func (a *AuditModeStore) Get(ctx context.Context) (bool, error) {
	val, ok, err := a.store.Get(ctx, auditModeKey)
	if err != nil {
		return true, err
	}
	if !ok {
		return true, nil
	}
	return len(val) > 0 && val[0] == '1', nil
}

func (a *AuditModeStore) Set(ctx context.Context, audit bool) error {
	v := []byte{'0'}
	if audit {
		v = []byte{'1'}
	}
	return a.store.Set(ctx, auditModeKey, v)
}
