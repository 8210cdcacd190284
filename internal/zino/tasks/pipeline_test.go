package tasks_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zinolabs/zino/internal/snmp"
	"github.com/zinolabs/zino/internal/zino/model"
	"github.com/zinolabs/zino/internal/zino/tasks"
)

type recordingTask struct {
	name string
	err  error
	ran  *[]string
}

func (r *recordingTask) Name() string { return r.name }
func (r *recordingTask) Run(context.Context, *tasks.Context) error {
	*r.ran = append(*r.ran, r.name)
	return r.err
}

func TestRunAll_StopsOnDeviceUnreachable(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	tc := newTestContext(dev, snmp.NewFakeClient())

	var ran []string
	pipeline := []tasks.Task{
		&recordingTask{name: "a", ran: &ran},
		&recordingTask{name: "b", err: tasks.ErrDeviceUnreachable, ran: &ran},
		&recordingTask{name: "c", ran: &ran},
	}
	tasks.RunAll(context.Background(), pipeline, tc)
	assert.Equal(t, []string{"a", "b"}, ran)
}

func TestRunAll_StopsOnAnyTaskError(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	tc := newTestContext(dev, snmp.NewFakeClient())

	var ran []string
	pipeline := []tasks.Task{
		&recordingTask{name: "a", ran: &ran},
		&recordingTask{name: "b", err: errors.New("boom"), ran: &ran},
		&recordingTask{name: "c", ran: &ran},
	}
	tasks.RunAll(context.Background(), pipeline, tc)
	assert.Equal(t, []string{"a", "b"}, ran)
}

func TestRunAll_RunsEntirePipelineOnSuccess(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	tc := newTestContext(dev, snmp.NewFakeClient())

	var ran []string
	pipeline := []tasks.Task{
		&recordingTask{name: "a", ran: &ran},
		&recordingTask{name: "b", ran: &ran},
		&recordingTask{name: "c", ran: &ran},
	}
	tasks.RunAll(context.Background(), pipeline, tc)
	assert.Equal(t, []string{"a", "b", "c"}, ran)
}

func TestDefaultPipeline_HasSevenTasksInOrder(t *testing.T) {
	t.Parallel()
	pipeline := tasks.DefaultPipeline()
	var names []string
	for _, task := range pipeline {
		names = append(names, task.Name())
	}
	assert.Equal(t, []string{
		"reachability", "vendor", "addressmap", "linkstate", "bfd", "bgp", "alarms",
	}, names)
}
