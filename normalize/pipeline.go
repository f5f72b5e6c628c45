package normalize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/creativespaces/mirrify/logger"
	"github.com/creativespaces/mirrify/models"
)

// Tier is one entry in the fallback chain.
type Tier struct {
	Backend models.Backend
	Encoder Encoder
	// Timeout bounds a single attempt. Zero leaves only the caller's context.
	Timeout time.Duration
}

// Pipeline tries its tiers in order until one produces a readable image.
type Pipeline struct {
	tiers []Tier

	preShrinkBytes int
	preShrink      Encoder
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPreShrink shrinks assets larger than threshold bytes with enc before the
// first tier runs. The shrink keeps the smaller side above the requested max
// dimension so the final size is the same as without it.
func WithPreShrink(threshold int, enc Encoder) Option {
	return func(p *Pipeline) {
		p.preShrinkBytes = threshold
		p.preShrink = enc
	}
}

// NewPipeline returns a pipeline over tiers, tried in the given order.
func NewPipeline(tiers []Tier, opts ...Option) *Pipeline {
	p := &Pipeline{tiers: append([]Tier(nil), tiers...)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DefaultTiers builds the native, cloud, local chain.
func DefaultTiers(cloudEndpoint string, nativeTimeout, cloudTimeout time.Duration) []Tier {
	return []Tier{
		{Backend: models.BackendNative, Encoder: NewNativeEncoder(), Timeout: nativeTimeout},
		{Backend: models.BackendCloud, Encoder: NewCloudEncoder(cloudEndpoint, cloudTimeout), Timeout: cloudTimeout},
		{Backend: models.BackendLocal, Encoder: NewLocalEncoder()},
	}
}

// Normalize never fails. When every tier errors the original asset is returned
// unchanged and tagged passthrough.
func (p *Pipeline) Normalize(ctx context.Context, asset models.ImageAsset, req models.NormalizationRequest) models.NormalizationResult {
	log := logger.Component("normalize")
	req = req.WithDefaults()

	meta, err := ReadMetadata(asset.Data)
	if err != nil {
		log.Warn().Err(err).Str("filename", asset.Filename).Msg("unreadable input, passing through")
		return passthrough(asset, models.ImageMetadata{ByteSize: asset.Size(), Density: models.DefaultDensity}, nil)
	}
	target := Plan(meta.Width, meta.Height, req.MaxDimension)

	src, srcMeta := asset, meta
	if shrunk, shrunkMeta, ok := p.maybePreShrink(ctx, asset, meta, req.MaxDimension); ok {
		src, srcMeta = shrunk, shrunkMeta
	}

	attempts := make([]models.TierAttempt, 0, len(p.tiers))
	for _, tier := range p.tiers {
		start := time.Now()
		out, outMeta, err := p.attempt(ctx, tier, src, srcMeta, target, req)
		elapsed := time.Since(start)

		attempt := models.TierAttempt{Backend: tier.Backend, Duration: elapsed}
		if err != nil {
			attempt.Error = err.Error()
			attempts = append(attempts, attempt)
			log.Warn().
				Err(err).
				Str("tier", string(tier.Backend)).
				Dur("elapsed", elapsed).
				Msg("tier failed")
			continue
		}
		attempts = append(attempts, attempt)

		log.Info().
			Str("tier", string(tier.Backend)).
			Dur("elapsed", elapsed).
			Int("width", outMeta.Width).
			Int("height", outMeta.Height).
			Int("original_size", asset.Size()).
			Int("processed_size", out.Size()).
			Msg("image normalized")

		return models.NormalizationResult{
			Asset:       out,
			Metadata:    outMeta,
			BackendUsed: tier.Backend,
			Attempts:    attempts,
		}
	}

	log.Warn().Int("tiers", len(p.tiers)).Str("filename", asset.Filename).Msg("all tiers failed, passing through")
	return passthrough(asset, meta, attempts)
}

func (p *Pipeline) attempt(ctx context.Context, tier Tier, src models.ImageAsset, meta models.ImageMetadata, target Dimensions, req models.NormalizationRequest) (out models.ImageAsset, outMeta models.ImageMetadata, err error) {
	if tier.Encoder == nil {
		return out, outMeta, fmt.Errorf("%w: tier %s has no encoder", ErrBackendUnavailable, tier.Backend)
	}
	if tier.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tier.Timeout)
		defer cancel()
	}

	// a misbehaving encoder must not take the pipeline down with it
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: tier %s panicked: %v", ErrEncode, tier.Backend, r)
		}
	}()

	out, err = tier.Encoder.Encode(ctx, src, meta, target, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrBackendUnavailable) {
			err = fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return models.ImageAsset{}, models.ImageMetadata{}, err
	}
	outMeta, err = ReadMetadata(out.Data)
	if err != nil {
		return models.ImageAsset{}, models.ImageMetadata{}, fmt.Errorf("%w: unreadable output: %v", ErrEncode, err)
	}
	if out.MIMEType == "" {
		out.MIMEType = DetectMIME(out.Data)
	}
	return out, outMeta, nil
}

// maybePreShrink returns a smaller copy of asset when it exceeds the byte
// threshold and its smaller side has room above maxDimension.
func (p *Pipeline) maybePreShrink(ctx context.Context, asset models.ImageAsset, meta models.ImageMetadata, maxDimension int) (models.ImageAsset, models.ImageMetadata, bool) {
	if p.preShrink == nil || p.preShrinkBytes <= 0 || asset.Size() <= p.preShrinkBytes {
		return asset, meta, false
	}
	bound, ok := preShrinkBound(meta.Width, meta.Height, maxDimension)
	if !ok {
		return asset, meta, false
	}

	log := logger.Component("normalize")
	shrunk, err := shrinkTo(ctx, p.preShrink, asset, meta, bound)
	if err != nil {
		log.Warn().Err(err).Int("bound", bound).Msg("pre-shrink failed, using original")
		return asset, meta, false
	}
	shrunkMeta, err := ReadMetadata(shrunk.Data)
	if err != nil {
		log.Warn().Err(err).Msg("pre-shrink output unreadable, using original")
		return asset, meta, false
	}
	// the shrink re-encodes without a density marker
	shrunkMeta.Density = meta.Density

	log.Debug().
		Int("original_size", asset.Size()).
		Int("shrunk_size", shrunk.Size()).
		Int("bound", bound).
		Msg("pre-shrink applied")
	return shrunk, shrunkMeta, true
}

// preShrinkBound is the larger-side bound that leaves the smaller side strictly
// above maxDimension after rounding.
func preShrinkBound(width, height, maxDimension int) (int, bool) {
	major, minor := width, height
	if minor > major {
		major, minor = minor, major
	}
	if minor <= maxDimension || minor <= 0 {
		return 0, false
	}
	bound := int(math.Ceil(float64(major)*(float64(maxDimension)+0.5)/float64(minor))) + 1
	if bound >= major {
		return 0, false
	}
	return bound, true
}

func passthrough(asset models.ImageAsset, meta models.ImageMetadata, attempts []models.TierAttempt) models.NormalizationResult {
	return models.NormalizationResult{
		Asset:       asset,
		Metadata:    meta,
		BackendUsed: models.BackendPassthrough,
		Attempts:    attempts,
	}
}
