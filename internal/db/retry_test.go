package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"lingocrowd/core/internal/utils"
)

// duplicateKeyError builds the WriteException the driver returns for a unique index violation.
func duplicateKeyError(index, key string) error {
	return mongo.WriteException{WriteErrors: []mongo.WriteError{{
		Code:    11000,
		Message: fmt.Sprintf("E11000 duplicate key error collection: test.things index: %s dup key: { : \"%s\" }", index, key),
	}}}
}

func TestWithRetries_SuccessfulFirstAttempt(t *testing.T) {
	calls := 0
	err := WithRetries(func() error { calls++; return nil }, 3, IsMongoDuplicateKeyError)
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetries_FailureNonDuplicateKey(t *testing.T) {
	calls := 0
	expected := errors.New("some other error")
	err := WithRetries(func() error { calls++; return expected }, 3, IsMongoDuplicateKeyError)
	assert.ErrorIs(t, err, expected)
	assert.Equal(t, 1, calls)
}

func TestWithRetries_ExhaustRetries(t *testing.T) {
	calls := 0
	err := WithRetries(func() error {
		calls++
		return duplicateKeyError("_id_", "X")
	}, 3, IsMongoDuplicateKeyError)
	require.Error(t, err)
	assert.True(t, IsMongoDuplicateKeyError(err))
	assert.Equal(t, 4, calls)
}

func TestTry_DoesNotRetryOtherUniqueIndexes(t *testing.T) {
	calls := 0
	err := Try(func() error {
		calls++
		return duplicateKeyError("request_teacher_unique", "X")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsDuplicateOnIndex(err, "request_teacher_unique"))
	assert.False(t, IsDuplicateIDError(err))
}

func TestTry_CollisionResolves(t *testing.T) {
	originalHook := utils.NewSixIDHook
	defer func() { utils.NewSixIDHook = originalHook }()

	id1 := utils.SixID{1, 2, 3, 4, 5, 1}
	id2 := utils.SixID{1, 2, 3, 4, 5, 2}
	queue := []utils.SixID{id1, id1, id2}
	utils.NewSixIDHook = func() (utils.SixID, bool) {
		if len(queue) == 0 {
			return utils.SixID{}, false
		}
		id := queue[0]
		queue = queue[1:]
		return id, true
	}

	inserted := map[utils.SixID]bool{id1: true}
	calls := 0
	err := Try(func() error {
		calls++
		id := utils.NewSixID()
		if inserted[id] {
			return duplicateKeyError("_id_", id.String())
		}
		inserted[id] = true
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, inserted[id2])
}
