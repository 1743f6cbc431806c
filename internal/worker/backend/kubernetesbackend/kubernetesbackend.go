// Package kubernetesbackend runs a run's entrypoint as a Kubernetes Job,
// one Job per run. Grounded on the teacher's kubernetes.BacktestRunner,
// which is itself a one-shot Job runner (unlike kubernetes.Runtime's
// long-lived bot Deployments): BackoffLimit 0, RestartPolicyNever,
// status read off job.Status.{Succeeded,Failed,Active}, logs streamed
// from the Job's Pod via CoreV1().Pods().GetLogs.
package kubernetesbackend

import (
	"bufio"
	"context"
	"fmt"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"automationhub/internal/enum"
	"automationhub/internal/worker/backend"
)

const (
	labelManaged = "automationhub.io/managed"
	labelRunID   = "automationhub.io/run-id"
	containerName = "run"
)

func init() {
	backend.Register(enum.BackendKubernetes, func(config map[string]interface{}) (backend.Backend, error) {
		kubeconfig, _ := config["kubeconfig"].(string)
		namespace, _ := config["namespace"].(string)
		if namespace == "" {
			namespace = "default"
		}
		return New(kubeconfig, namespace)
	})
}

// Backend spawns run Jobs against a Kubernetes cluster.
type Backend struct {
	clientset kubernetes.Interface
	namespace string
}

// New builds a Backend. An empty kubeconfig path falls back to in-cluster
// config, matching the teacher's buildRestConfig fallback order.
func New(kubeconfig, namespace string) (*Backend, error) {
	restConfig, err := buildRestConfig(kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("kubernetesbackend: build rest config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("kubernetesbackend: new client: %w", err)
	}
	return &Backend{clientset: clientset, namespace: namespace}, nil
}

func buildRestConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		restConfig, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("in-cluster config (not running in K8s?): %w", err)
		}
		return restConfig, nil
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}

var _ backend.Backend = (*Backend)(nil)

func (b *Backend) Type() enum.BackendType { return enum.BackendKubernetes }

func jobName(runID string) string { return "automationhub-run-" + runID }

func (b *Backend) Spawn(ctx context.Context, spec backend.RunSpec) (backend.Handle, error) {
	cmd, err := entrypointCommand(spec)
	if err != nil {
		return nil, err
	}

	backoffLimit := int32(0)
	ttlSeconds := int32(3600)
	labels := map[string]string{labelManaged: "true", labelRunID: spec.RunID}

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName(spec.RunID),
			Namespace: b.namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoffLimit,
			TTLSecondsAfterFinished: &ttlSeconds,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:    containerName,
							Image:   spec.RobotName,
							Command: cmd[:1],
							Args:    cmd[1:],
							Env:     buildEnv(spec.Env),
						},
					},
				},
			},
		},
	}

	if _, err := b.clientset.BatchV1().Jobs(b.namespace).Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return nil, fmt.Errorf("kubernetesbackend: create job: %w", err)
	}

	return &handle{clientset: b.clientset, namespace: b.namespace, runID: spec.RunID}, nil
}

func entrypointCommand(spec backend.RunSpec) ([]string, error) {
	switch spec.EntrypointKind {
	case enum.EntrypointKindScript:
		return append([]string{"python3", spec.EntrypointPath}, spec.Arguments...), nil
	case enum.EntrypointKindBinary:
		return append([]string{spec.EntrypointPath}, spec.Arguments...), nil
	default:
		return nil, fmt.Errorf("kubernetesbackend: unsupported entrypoint kind %q", spec.EntrypointKind)
	}
}

func buildEnv(env map[string]string) []corev1.EnvVar {
	out := make([]corev1.EnvVar, 0, len(env))
	for k, v := range env {
		out = append(out, corev1.EnvVar{Name: k, Value: v})
	}
	return out
}

type handle struct {
	clientset kubernetes.Interface
	namespace string
	runID     string
}

func (h *handle) podSelector() string { return fmt.Sprintf("%s=%s", labelRunID, h.runID) }

func (h *handle) findPod(ctx context.Context) (*corev1.Pod, error) {
	pods, err := h.clientset.CoreV1().Pods(h.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: h.podSelector(),
	})
	if err != nil {
		return nil, fmt.Errorf("kubernetesbackend: list pods: %w", err)
	}
	if len(pods.Items) == 0 {
		return nil, fmt.Errorf("kubernetesbackend: no pod found for run %s", h.runID)
	}
	return &pods.Items[0], nil
}

func (h *handle) Lines() <-chan backend.LogLine {
	out := make(chan backend.LogLine, 256)
	go func() {
		defer close(out)
		pod, err := h.waitForPod(context.Background())
		if err != nil {
			return
		}
		req := h.clientset.CoreV1().Pods(h.namespace).GetLogs(pod.Name, &corev1.PodLogOptions{
			Container: containerName,
			Follow:    true,
		})
		stream, err := req.Stream(context.Background())
		if err != nil {
			return
		}
		defer stream.Close()

		scanner := bufio.NewScanner(stream)
		for scanner.Scan() {
			out <- backend.LogLine{Stream: "stdout", Message: scanner.Text(), Timestamp: time.Now()}
		}
	}()
	return out
}

func (h *handle) waitForPod(ctx context.Context) (*corev1.Pod, error) {
	for i := 0; i < 60; i++ {
		pod, err := h.findPod(ctx)
		if err == nil {
			return pod, nil
		}
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("kubernetesbackend: timed out waiting for pod for run %s", h.runID)
}

func (h *handle) Wait(ctx context.Context) (int, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		job, err := h.clientset.BatchV1().Jobs(h.namespace).Get(ctx, jobName(h.runID), metav1.GetOptions{})
		if err != nil {
			if apierrors.IsNotFound(err) {
				return -1, fmt.Errorf("kubernetesbackend: job %s not found", jobName(h.runID))
			}
			return -1, err
		}
		if job.Status.Succeeded > 0 {
			return 0, nil
		}
		if job.Status.Failed > 0 {
			return h.podExitCode(ctx), nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	}
}

func (h *handle) podExitCode(ctx context.Context) int {
	pod, err := h.findPod(ctx)
	if err != nil {
		return -1
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.Name == containerName && cs.State.Terminated != nil {
			return int(cs.State.Terminated.ExitCode)
		}
	}
	return -1
}

func (h *handle) Signal(ctx context.Context, sig backend.Signal) error {
	propagation := metav1.DeletePropagationForeground
	err := h.clientset.BatchV1().Jobs(h.namespace).Delete(ctx, jobName(h.runID), metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("kubernetesbackend: delete job: %w", err)
	}
	return nil
}
