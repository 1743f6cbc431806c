package kubernetesbackend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	batchv1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"automationhub/internal/enum"
	"automationhub/internal/worker/backend"
)

func TestSpawnCreatesJobWithRunLabel(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	b := &Backend{clientset: clientset, namespace: "runs"}

	h, err := b.Spawn(context.Background(), backend.RunSpec{
		RunID:          "run-1",
		RobotName:      "example/robot:v1",
		EntrypointKind: enum.EntrypointKindScript,
		EntrypointPath: "/app/main.py",
	})
	require.NoError(t, err)
	require.NotNil(t, h)

	job, err := clientset.BatchV1().Jobs("runs").Get(context.Background(), jobName("run-1"), metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "true", job.Labels[labelManaged])
	assert.Equal(t, "run-1", job.Labels[labelRunID])
	assert.Equal(t, int32(0), *job.Spec.BackoffLimit)
	container := job.Spec.Template.Spec.Containers[0]
	assert.Equal(t, []string{"python3"}, container.Command)
	assert.Equal(t, []string{"/app/main.py"}, container.Args)
}

func TestWaitReturnsZeroOnJobSuccess(t *testing.T) {
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: jobName("run-2"), Namespace: "runs"},
		Status:     batchv1.JobStatus{Succeeded: 1},
	}
	clientset := fake.NewSimpleClientset(job)
	h := &handle{clientset: clientset, namespace: "runs", runID: "run-2"}

	code, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestSignalDeletesJob(t *testing.T) {
	job := &batchv1.Job{ObjectMeta: metav1.ObjectMeta{Name: jobName("run-3"), Namespace: "runs"}}
	clientset := fake.NewSimpleClientset(job)
	h := &handle{clientset: clientset, namespace: "runs", runID: "run-3"}

	require.NoError(t, h.Signal(context.Background(), backend.SignalTerm))

	_, err := clientset.BatchV1().Jobs("runs").Get(context.Background(), jobName("run-3"), metav1.GetOptions{})
	require.Error(t, err)
}

func TestSignalOnMissingJobIsNotAnError(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	h := &handle{clientset: clientset, namespace: "runs", runID: "missing"}
	require.NoError(t, h.Signal(context.Background(), backend.SignalKill))
}
