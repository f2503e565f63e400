// Package kubernetes provides a statez.Storage implementation that keeps
// values as data keys of a Kubernetes ConfigMap or Secret, with external
// change watching through the Watch API.
package kubernetes

import (
	"context"
	"errors"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"

	"github.com/zoobzio/statez"
)

// ResourceType specifies the type of Kubernetes resource holding values.
type ResourceType int

const (
	// ConfigMap stores values in a ConfigMap.
	ConfigMap ResourceType = iota
	// Secret stores values in a Secret.
	Secret
)

// Storage stores each statez key as a data key of one resource. The
// resource is created on first write.
type Storage struct {
	client       kubernetes.Interface
	namespace    string
	name         string
	resourceType ResourceType
}

// Option configures a Storage.
type Option func(*Storage)

// WithResourceType sets the resource type. Defaults to ConfigMap.
func WithResourceType(rt ResourceType) Option {
	return func(s *Storage) {
		s.resourceType = rt
	}
}

// New creates a Storage for the named resource in namespace.
func New(client kubernetes.Interface, namespace, name string, opts ...Option) *Storage {
	s := &Storage{
		client:       client,
		namespace:    namespace,
		name:         name,
		resourceType: ConfigMap,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read returns the value stored at key.
func (s *Storage) Read(ctx context.Context, key string) ([]byte, bool, error) {
	data, _, err := s.get(ctx)
	if apierrors.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, ok := data[key]
	return v, ok, nil
}

// Write stores data at key, creating the resource if needed. Conflicting
// concurrent updates are retried.
func (s *Storage) Write(ctx context.Context, key string, data []byte) error {
	return s.mutate(ctx, func(values map[string][]byte) {
		values[key] = data
	})
}

// Delete removes key from the resource.
func (s *Storage) Delete(ctx context.Context, key string) error {
	err := s.mutate(ctx, func(values map[string][]byte) {
		delete(values, key)
	})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

// Watch returns a channel that emits the key's value whenever the resource
// changes. The current value is emitted immediately. The watch is
// re-established after errors until ctx is canceled.
func (s *Storage) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	out := make(chan []byte)

	go func() {
		defer close(out)

		for {
			if err := s.watchLoop(ctx, key, out); err != nil {
				if ctx.Err() != nil {
					return
				}
				// Reconnect on error
				continue
			}
			return
		}
	}()

	return out, nil
}

func (s *Storage) watchLoop(ctx context.Context, key string, out chan<- []byte) error {
	opts := metav1.ListOptions{
		FieldSelector: fmt.Sprintf("metadata.name=%s", s.name),
	}

	var (
		watcher watch.Interface
		err     error
	)
	if s.resourceType == ConfigMap {
		watcher, err = s.client.CoreV1().ConfigMaps(s.namespace).Watch(ctx, opts)
	} else {
		watcher, err = s.client.CoreV1().Secrets(s.namespace).Watch(ctx, opts)
	}
	if err != nil {
		return fmt.Errorf("failed to start watch: %w", err)
	}
	defer watcher.Stop()

	// Read after the watch is established so no change falls in between.
	data, _, err := s.get(ctx)
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	if value, ok := data[key]; ok {
		select {
		case out <- value:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return errors.New("watch channel closed")
			}

			if event.Type == watch.Error {
				return errors.New("watch error")
			}

			if event.Type == watch.Deleted {
				continue
			}

			value, ok := s.extract(event.Object, key)
			if !ok {
				continue
			}
			select {
			case out <- value:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (s *Storage) get(ctx context.Context) (map[string][]byte, string, error) {
	if s.resourceType == ConfigMap {
		cm, err := s.client.CoreV1().ConfigMaps(s.namespace).Get(ctx, s.name, metav1.GetOptions{})
		if err != nil {
			return nil, "", err
		}
		return fromStrings(cm.Data), cm.ResourceVersion, nil
	}

	secret, err := s.client.CoreV1().Secrets(s.namespace).Get(ctx, s.name, metav1.GetOptions{})
	if err != nil {
		return nil, "", err
	}
	return secret.Data, secret.ResourceVersion, nil
}

// mutate applies fn to the resource data and saves it, creating the
// resource when it does not exist.
func (s *Storage) mutate(ctx context.Context, fn func(map[string][]byte)) error {
	retriable := func(err error) bool {
		return apierrors.IsConflict(err) || apierrors.IsAlreadyExists(err)
	}
	return retry.OnError(retry.DefaultRetry, retriable, func() error {
		if s.resourceType == ConfigMap {
			return s.mutateConfigMap(ctx, fn)
		}
		return s.mutateSecret(ctx, fn)
	})
}

func (s *Storage) mutateConfigMap(ctx context.Context, fn func(map[string][]byte)) error {
	api := s.client.CoreV1().ConfigMaps(s.namespace)
	cm, err := api.Get(ctx, s.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		values := map[string][]byte{}
		fn(values)
		_, err = api.Create(ctx, &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: s.name, Namespace: s.namespace},
			Data:       toStrings(values),
		}, metav1.CreateOptions{})
		return err
	}
	if err != nil {
		return err
	}
	values := fromStrings(cm.Data)
	fn(values)
	cm.Data = toStrings(values)
	_, err = api.Update(ctx, cm, metav1.UpdateOptions{})
	return err
}

func (s *Storage) mutateSecret(ctx context.Context, fn func(map[string][]byte)) error {
	api := s.client.CoreV1().Secrets(s.namespace)
	secret, err := api.Get(ctx, s.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		values := map[string][]byte{}
		fn(values)
		_, err = api.Create(ctx, &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: s.name, Namespace: s.namespace},
			Data:       values,
		}, metav1.CreateOptions{})
		return err
	}
	if err != nil {
		return err
	}
	if secret.Data == nil {
		secret.Data = map[string][]byte{}
	}
	fn(secret.Data)
	_, err = api.Update(ctx, secret, metav1.UpdateOptions{})
	return err
}

func (s *Storage) extract(obj any, key string) ([]byte, bool) {
	switch o := obj.(type) {
	case *corev1.ConfigMap:
		if s.resourceType != ConfigMap || o.Name != s.name {
			return nil, false
		}
		v, ok := o.Data[key]
		return []byte(v), ok
	case *corev1.Secret:
		if s.resourceType != Secret || o.Name != s.name {
			return nil, false
		}
		v, ok := o.Data[key]
		return v, ok
	}
	return nil, false
}

func fromStrings(m map[string]string) map[string][]byte {
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = []byte(v)
	}
	return out
}

func toStrings(m map[string][]byte) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = string(v)
	}
	return out
}

var (
	_ statez.WatchableStorage = (*Storage)(nil)
	_ statez.Deleter          = (*Storage)(nil)
)
