package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaseAggregateRoot_StoredVersion(t *testing.T) {
	fresh := NewBaseAggregateRoot()
	assert.Equal(t, 0, fresh.StoredVersion(), "never stored")

	loaded := LoadAggregateRoot(NewBaseEntity(), 4)
	loaded.Touch()
	loaded.Touch()
	assert.Equal(t, 6, loaded.Version)
	assert.Equal(t, 4, loaded.StoredVersion())

	loaded.MarkStored()
	assert.Equal(t, 6, loaded.StoredVersion())
}
