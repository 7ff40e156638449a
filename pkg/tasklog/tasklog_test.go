package tasklog

import (
	"errors"
	"testing"

	"github.com/cuemby/tarantoolctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskSucceedRecordsMessagesInOrder(t *testing.T) {
	task := New(types.TaskCreate, "g1")
	task.Step("writing blueprint")
	task.Step("allocating hosts")

	record := task.Succeed()

	require.Len(t, record.Messages, 2)
	assert.Equal(t, "writing blueprint", record.Messages[0].Message)
	assert.Equal(t, "allocating hosts", record.Messages[1].Message)
	assert.Equal(t, types.TaskSuccess, record.Status)
	assert.Empty(t, record.Error)
	assert.Equal(t, types.TaskCreate, record.Type)
	assert.Equal(t, "g1", record.GroupID)
	assert.NotEmpty(t, record.ID)
}

func TestTaskFailSetsCriticalStatusAndMessage(t *testing.T) {
	task := New(types.TaskDelete, "g2")
	task.Step("removing containers")

	record := task.Fail(errors.New("host unreachable"))

	assert.Equal(t, types.TaskCritical, record.Status)
	assert.Equal(t, "host unreachable", record.Error)
}

func TestFinishIsMonotonic(t *testing.T) {
	task := New(types.TaskUpdate, "g3")
	task.Succeed()
	record := task.Fail(errors.New("too late"))

	// Fail after Succeed must not override the terminal status.
	assert.Equal(t, types.TaskSuccess, record.Status)
	assert.Empty(t, record.Error)
}
