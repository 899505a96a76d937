// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sigil-dev/modelplane/internal/store"
)

func TestSampleQueryValidate(t *testing.T) {
	key := store.SampleKey{Provider: "hf", Model: "demo", Tag: "blue"}

	assert.NoError(t, store.SampleQuery{Key: key}.Validate())
	assert.NoError(t, store.SampleQuery{Key: key, Limit: 10}.Validate())

	for name, q := range map[string]store.SampleQuery{
		"missing tag":    {Key: store.SampleKey{Provider: "hf", Model: "demo"}},
		"missing model":  {Key: store.SampleKey{Provider: "hf", Tag: "blue"}},
		"negative limit": {Key: key, Limit: -1},
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, q.Validate(), store.ErrInvalidInput)
		})
	}
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("%w: committing samples: %w", store.ErrDatabase, errors.New("disk I/O error"))
	assert.ErrorIs(t, err, store.ErrDatabase)
	assert.NotErrorIs(t, err, store.ErrInvalidInput)
}
