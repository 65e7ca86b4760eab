package source

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// KubeClientFunc yields a clientset plus the namespace to use. Injected so
// tests can supply a fake clientset.
type KubeClientFunc func() (kubernetes.Interface, string, error)

// DefaultKubeClient resolves cluster access the usual way: kubeconfig when
// present, in-cluster service account otherwise. When namespace is empty,
// the client configuration's default namespace is used.
func DefaultKubeClient(namespace string) KubeClientFunc {
	return func() (kubernetes.Interface, string, error) {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})
		ns := namespace
		if ns == "" {
			resolved, _, err := clientConfig.Namespace()
			if err != nil {
				return nil, "", fmt.Errorf("resolve default namespace: %w", err)
			}
			ns = resolved
		}
		restConfig, err := clientConfig.ClientConfig()
		if err != nil {
			return nil, "", fmt.Errorf("build rest config: %w", err)
		}
		rest.SetDefaultWarningHandler(rest.NoWarnings{})
		restConfig.Timeout = 30 * time.Second
		clientset, err := kubernetes.NewForConfig(restConfig)
		if err != nil {
			return nil, "", fmt.Errorf("create typed client: %w", err)
		}
		return clientset, ns, nil
	}
}

// ConfigMap exposes a Kubernetes ConfigMap as a configuration layer. Keys
// are lower-cased and underscore-nested: DATABASE_HOST becomes
// database.host.
type ConfigMap struct {
	name   string
	client KubeClientFunc
	log    logr.Logger
}

// NewConfigMap builds a ConfigMap source for the named object.
func NewConfigMap(log logr.Logger, name string, client KubeClientFunc) *ConfigMap {
	return &ConfigMap{name: name, client: client, log: log}
}

func (c *ConfigMap) String() string { return fmt.Sprintf("k8s configmap %q", c.name) }

func (c *ConfigMap) Layer(ctx context.Context) (map[string]any, error) {
	clientset, ns, err := c.client()
	if err != nil {
		return nil, Recoverable(err)
	}
	cm, err := clientset.CoreV1().ConfigMaps(ns).Get(ctx, c.name, metav1.GetOptions{})
	if err != nil {
		return nil, Recoverable(fmt.Errorf("get configmap %q: %w", c.name, err))
	}
	if len(cm.Data) == 0 {
		return nil, Recoverable(fmt.Errorf("configmap %q has no data", c.name))
	}
	layer := map[string]any{}
	for k, v := range cm.Data {
		insertNested(layer, splitObjectKey(k), v)
	}
	return layer, nil
}

func (c *ConfigMap) Watch(ctx context.Context, notify *Notifier) error {
	clientset, ns, err := c.client()
	if err != nil {
		return fmt.Errorf("get k8s client: %w", err)
	}
	watchNamedObject(ctx, c.log, notify, c.String(), func(opts metav1.ListOptions) (watch.Interface, error) {
		opts.FieldSelector = "metadata.name=" + c.name
		return clientset.CoreV1().ConfigMaps(ns).Watch(ctx, opts)
	})
	return nil
}

// Secret exposes a Kubernetes Secret as a configuration layer. Each entry
// carries a "bytes" field with the raw value and, when the value is valid
// UTF-8, a decoded "string" sibling.
type Secret struct {
	name   string
	client KubeClientFunc
	log    logr.Logger
}

// NewSecret builds a Secret source for the named object.
func NewSecret(log logr.Logger, name string, client KubeClientFunc) *Secret {
	return &Secret{name: name, client: client, log: log}
}

func (s *Secret) String() string { return fmt.Sprintf("k8s secret %q", s.name) }

func (s *Secret) Layer(ctx context.Context) (map[string]any, error) {
	clientset, ns, err := s.client()
	if err != nil {
		return nil, Recoverable(err)
	}
	secret, err := clientset.CoreV1().Secrets(ns).Get(ctx, s.name, metav1.GetOptions{})
	if err != nil {
		return nil, Recoverable(fmt.Errorf("get secret %q: %w", s.name, err))
	}
	if len(secret.Data) == 0 {
		return nil, Recoverable(fmt.Errorf("secret %q has no data", s.name))
	}
	layer := map[string]any{}
	for k, v := range secret.Data {
		node := map[string]any{"bytes": v}
		if utf8.Valid(v) {
			node["string"] = string(v)
		}
		insertNested(layer, splitObjectKey(k), node)
	}
	return layer, nil
}

func (s *Secret) Watch(ctx context.Context, notify *Notifier) error {
	clientset, ns, err := s.client()
	if err != nil {
		return fmt.Errorf("get k8s client: %w", err)
	}
	watchNamedObject(ctx, s.log, notify, s.String(), func(opts metav1.ListOptions) (watch.Interface, error) {
		opts.FieldSelector = "metadata.name=" + s.name
		return clientset.CoreV1().Secrets(ns).Watch(ctx, opts)
	})
	return nil
}

// splitObjectKey turns a ConfigMap/Secret key into a nested key path:
// lower-cased, underscores become dots.
func splitObjectKey(key string) []string {
	return strings.Split(strings.ReplaceAll(strings.ToLower(key), "_", "."), ".")
}

func newWatchBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: time.Second,
		Factor:   2,
		Jitter:   0.1,
		Steps:    10,
		Cap:      30 * time.Second,
	}
}

// watchNamedObject runs a server-side watch in a background goroutine,
// reconnecting with exponential backoff on stream errors. Notifications
// fire only when the object's resource version moves, so resync echoes
// after a reconnect stay silent. (ConfigMaps and Secrets do not carry a
// generation; the resource version stands in for it.)
func watchNamedObject(ctx context.Context, log logr.Logger, notify *Notifier, desc string, open func(metav1.ListOptions) (watch.Interface, error)) {
	go func() {
		backoff := newWatchBackoff()
		lastVersion := ""
		for ctx.Err() == nil {
			stream, err := open(metav1.ListOptions{})
			if err != nil {
				log.Info("k8s watch error", "source", desc, "error", err.Error())
				if !sleepCtx(ctx, backoff.Step()) {
					return
				}
				continue
			}

			for event := range stream.ResultChan() {
				switch event.Type {
				case watch.Error:
					log.Info("k8s watch stream error", "source", desc, "event", fmt.Sprintf("%v", event.Object))
					continue
				case watch.Added, watch.Modified, watch.Deleted:
				default:
					continue
				}
				accessor, err := meta.Accessor(event.Object)
				if err != nil {
					continue
				}
				backoff = newWatchBackoff()
				if accessor.GetResourceVersion() == lastVersion {
					continue
				}
				lastVersion = accessor.GetResourceVersion()
				notify.Notify(desc)
			}
			stream.Stop()

			// Stream ended; back off before re-establishing.
			if !sleepCtx(ctx, backoff.Step()) {
				return
			}
		}
	}()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
