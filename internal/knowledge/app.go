package knowledge

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/starford/dsms/internal/apperr"
	"github.com/starford/dsms/internal/session"
)

// AppConfig is the workflow specification of a DSMS app.
type AppConfig struct {
	sess *session.Session
	name string
	spec map[string]any
}

// AppInput describes an app configuration to construct. Specification is
// either a decoded mapping or the path of a YAML file.
type AppInput struct {
	Name            string
	Specification   any
	ExposeSDKConfig bool
}

// NewAppConfig validates in and registers the app configuration. A
// specification the backend does not hold yet is staged as created and
// updated; one that differs from the stored version is staged as updated.
func NewAppConfig(ctx context.Context, sess *session.Session, in AppInput) (*AppConfig, error) {
	if err := validateAppName(in.Name); err != nil {
		return nil, err
	}
	a := &AppConfig{sess: sess, name: in.Name}
	spec, fromFile, err := loadSpecification(in.Specification)
	if err != nil {
		return nil, err
	}
	a.spec = spec
	if in.ExposeSDKConfig {
		if err := a.exposeSDKConfig(); err != nil {
			return nil, err
		}
	}

	stored, err := sess.Backend().GetAppSpec(ctx, a.name)
	exists := err == nil
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("knowledge: check app %s: %w", a.name, err)
	}

	sess.Register(a)
	switch {
	case !exists:
		sess.Buffers().MarkCreated(a)
		sess.Buffers().MarkUpdated(a)
	case fromFile:
		sess.Buffers().MarkUpdated(a)
	default:
		same, err := a.matches(stored)
		if err != nil || !same {
			sess.Buffers().MarkUpdated(a)
		}
	}
	return a, nil
}

func validateAppName(name string) error {
	if name == "" {
		return &apperr.ValidationError{Entity: "app", Field: "name", Err: errRequired}
	}
	if url.QueryEscape(name) != name {
		return &apperr.ValidationError{Entity: "app", Field: "name",
			Err: fmt.Errorf("%q contains characters that are not allowed in a URL", name)}
	}
	return nil
}

func loadSpecification(v any) (map[string]any, bool, error) {
	switch x := v.(type) {
	case map[string]any:
		return x, false, nil
	case string:
		data, err := os.ReadFile(x)
		if err != nil {
			return nil, false, &apperr.ValidationError{Entity: "app", Field: "specification",
				Err: fmt.Errorf("read %s: %w", x, err)}
		}
		spec, err := decodeSpec(data)
		if err != nil {
			return nil, false, err
		}
		return spec, true, nil
	case nil:
		return nil, false, &apperr.ValidationError{Entity: "app", Field: "specification", Err: errRequired}
	default:
		return nil, false, &apperr.ValidationError{Entity: "app", Field: "specification",
			Err: fmt.Errorf("unsupported value of type %T", v)}
	}
}

func decodeSpec(data []byte) (map[string]any, error) {
	var spec map[string]any
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, &apperr.ValidationError{Entity: "app", Field: "specification",
			Err: fmt.Errorf("invalid yaml: %w", err)}
	}
	if spec == nil {
		return nil, &apperr.ValidationError{Entity: "app", Field: "specification", Err: fmt.Errorf("empty document")}
	}
	return spec, nil
}

// exposeSDKConfig appends the connection parameters of the session to
// spec.arguments.parameters. The access token is never exposed.
func (a *AppConfig) exposeSDKConfig() error {
	st := a.sess.Settings()
	inner, err := childMap(a.spec, "spec")
	if err != nil {
		return err
	}
	args, err := childMap(inner, "arguments")
	if err != nil {
		return err
	}
	var params []any
	switch p := args["parameters"].(type) {
	case nil:
	case []any:
		params = p
	default:
		return &apperr.ValidationError{Entity: "app", Field: "specification",
			Err: fmt.Errorf("spec.arguments.parameters is a %T, not a list", p)}
	}
	params = append(params,
		map[string]any{"name": "request_timeout", "value": int(st.RequestTimeout.Seconds())},
		map[string]any{"name": "ping", "value": st.Ping},
		map[string]any{"name": "host_url", "value": st.HostURL},
		map[string]any{"name": "ssl_verify", "value": st.SSLVerify},
		map[string]any{"name": "kitem_repo", "value": st.Repository},
	)
	args["parameters"] = params
	return nil
}

func childMap(m map[string]any, key string) (map[string]any, error) {
	switch v := m[key].(type) {
	case nil:
		child := make(map[string]any)
		m[key] = child
		return child, nil
	case map[string]any:
		return v, nil
	default:
		return nil, &apperr.ValidationError{Entity: "app", Field: "specification",
			Err: fmt.Errorf("%q is a %T, not a mapping", key, v)}
	}
}

func (a *AppConfig) matches(stored []byte) (bool, error) {
	remote, err := decodeSpec(stored)
	if err != nil {
		return false, err
	}
	want, err := yaml.Marshal(remote)
	if err != nil {
		return false, err
	}
	have, err := a.SpecYAML()
	if err != nil {
		return false, err
	}
	return bytes.Equal(want, have), nil
}

// Key implements session.Entity.
func (a *AppConfig) Key() string { return a.name }

// Kind implements session.Entity.
func (a *AppConfig) Kind() session.Kind { return session.KindAppConfig }

// Name returns the file name of the app in the DSMS.
func (a *AppConfig) Name() string { return a.name }

// Specification returns the decoded specification.
func (a *AppConfig) Specification() map[string]any { return a.spec }

// SetSpecification replaces the specification with a mapping or the
// contents of a YAML file.
func (a *AppConfig) SetSpecification(v any) error {
	spec, _, err := loadSpecification(v)
	if err != nil {
		return err
	}
	a.spec = spec
	a.sess.Buffers().MarkUpdated(a)
	return nil
}

// SpecYAML encodes the specification for upload.
func (a *AppConfig) SpecYAML() ([]byte, error) {
	data, err := yaml.Marshal(a.spec)
	if err != nil {
		return nil, fmt.Errorf("knowledge: encode app %s: %w", a.name, err)
	}
	return data, nil
}

// Delete stages the app configuration for deletion.
func (a *AppConfig) Delete() {
	a.sess.Buffers().MarkDeleted(a)
	a.sess.Forget(a)
}

// FetchAppConfig loads a stored app configuration without staging it.
func FetchAppConfig(ctx context.Context, sess *session.Session, name string) (*AppConfig, error) {
	if err := validateAppName(name); err != nil {
		return nil, err
	}
	data, err := sess.Backend().GetAppSpec(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("knowledge: get app %s: %w", name, err)
	}
	spec, err := decodeSpec(data)
	if err != nil {
		return nil, err
	}
	a := &AppConfig{sess: sess, name: name, spec: spec}
	sess.Register(a)
	return a, nil
}
