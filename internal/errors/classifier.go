package errors

import (
	"context"
)

// Classification is the outcome of the failure policy for a site.
type Classification int

const (
	// Fatal failures abort the session with a non-zero exit.
	Fatal Classification = iota
	// Recoverable failures are logged and the session keeps running.
	Recoverable
	// Ignored failures are logged at debug level only.
	Ignored
)

// String returns the string representation of the Classification
func (c Classification) String() string {
	switch c {
	case Fatal:
		return "fatal"
	case Recoverable:
		return "recoverable"
	case Ignored:
		return "ignored"
	default:
		return "unknown"
	}
}

var policy = map[Site]Classification{
	SiteConfigFile:      Fatal,
	SiteConfigHook:      Fatal,
	SiteManifestRemoval: Ignored,
	SiteRuntimeCopy:     Fatal,
	SiteSourceCopy:      Fatal,
	SitePublicCopy:      Ignored,
	SiteCompilerInit:    Fatal,
	SiteCompile:         Recoverable,
	SiteListen:          Recoverable,
	SiteMirrorCopy:      Recoverable,
}

// Classify returns the policy for site. Unknown sites are fatal.
func Classify(site Site) Classification {
	if c, ok := policy[site]; ok {
		return c
	}
	return Fatal
}

// ClassifyError classifies err by its site. Errors without a site are fatal.
func ClassifyError(err error) Classification {
	site, ok := SiteOf(err)
	if !ok {
		return Fatal
	}
	return Classify(site)
}

// IsFatal reports whether err must terminate the session.
func IsFatal(err error) bool {
	return err != nil && ClassifyError(err) == Fatal
}

// Logger interface for error logging.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
	Error(ctx context.Context, err error, msg string, fields ...interface{})
}

// Recorder counts classified failures.
type Recorder interface {
	RecordFailure(site, classification string)
}

// Classifier applies the failure policy at component boundaries.
type Classifier struct {
	logger   Logger
	recorder Recorder
}

// NewClassifier creates a classifier. recorder may be nil.
func NewClassifier(logger Logger, recorder Recorder) *Classifier {
	return &Classifier{logger: logger, recorder: recorder}
}

// Absorb logs err according to its classification. Recoverable and ignored
// failures are swallowed and Absorb returns nil; fatal failures are returned
// so the caller can stop the session.
func (c *Classifier) Absorb(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	class := ClassifyError(err)
	site, kind := "unknown", KindConfiguration
	if s, ok := SiteOf(err); ok {
		site, kind = s.String(), s.Kind()
	}
	if c.recorder != nil {
		c.recorder.RecordFailure(site, class.String())
	}

	if c.logger != nil {
		switch class {
		case Ignored:
			c.logger.Debug(ctx, "Ignoring optional failure", "site", site, "kind", string(kind), "error", err.Error())
		case Recoverable:
			c.logger.Warn(ctx, err, "Recoverable failure, continuing", "site", site, "kind", string(kind))
		default:
			fields := []interface{}{"site", site, "kind", string(kind)}
			if hint := HintOf(err); hint != "" {
				fields = append(fields, "hint", hint)
			}
			c.logger.Error(ctx, err, "Fatal failure", fields...)
		}
	}

	if class == Fatal {
		return err
	}
	return nil
}
