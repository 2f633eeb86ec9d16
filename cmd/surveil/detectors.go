package main

import (
	"context"
	"log"

	"surveil/internal/config"
	"surveil/internal/detection"
	"surveil/internal/pipeline"
	"surveil/internal/pipeline/detectors"
)

// buildRegistry creates every detector once. Detectors whose backing
// service is not configured are registered disabled so the startup log
// lists them.
func buildRegistry(cfg *config.Config) (*detectors.Registry, error) {
	dc := cfg.Detectors
	timeout := cfg.Inference.Timeout.D()

	var objects, poses, weapons detectors.Capability
	if cfg.Inference.Endpoint != "" {
		client := detection.NewInferenceClient(cfg.Inference.Endpoint, timeout)
		objects = detectors.NewInferenceAdapter(client, detection.PathDetect, dc.Person.Confidence, "person")
		poses = detectors.NewInferenceAdapter(client, detection.PathPose, dc.Fight.PoseConfidence, "")
	}
	if cfg.Inference.WeaponEndpoint != "" {
		client := detection.NewInferenceClient(cfg.Inference.WeaponEndpoint, timeout)
		weapons = detectors.NewInferenceAdapter(client, detection.PathWeapon, dc.Weapon.Confidence, "")
	}

	motion := detectors.DefaultMotionConfig()
	motion.MinArea = dc.Motion.MinArea

	gemini := detection.NewGeminiClient(cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.Timeout.D())

	registry := detectors.NewRegistry()
	for _, d := range []pipeline.Detector{
		detectors.NewPersonDetector(objects, dc.Person.Enabled, dc.Person.Confidence),
		detectors.NewFightDetector(poses, dc.Fight.Enabled, fightConfig(dc.Fight)),
		detectors.NewMotionDetector(dc.Motion.Enabled, motion),
		detectors.NewWeaponDetector(weapons, dc.Weapon.Enabled, dc.Weapon.Confidence),
		detectors.NewGeminiWeaponDetector(gemini, dc.GeminiWeapon.Enabled, cfg.Gemini.Cooldown.D(), nil),
	} {
		if err := registry.Register(d); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func fightConfig(fc config.FightConfig) detectors.FightConfig {
	return detectors.FightConfig{
		PoseConfidence:     fc.PoseConfidence,
		KeypointConfidence: fc.KeypointConfidence,
		ProximityRatio:     fc.ProximityRatio,
		ArmIntrusionMargin: fc.ArmIntrusionMargin,
		VelocityThreshold:  fc.VelocityThreshold,
		MinCriteria:        fc.MinCriteria,
		SustainFrames:      fc.SustainFrames,
		Cooldown:           fc.Cooldown.D(),
		MatchIoU:           fc.MatchIoU,
	}
}

// checkInference logs whether the configured inference services answer
// their health check. Detection still starts when they do not; the
// composer treats per-frame failures as empty results.
func checkInference(ctx context.Context, cfg *config.Config, logger *log.Logger) {
	for _, endpoint := range []string{cfg.Inference.Endpoint, cfg.Inference.WeaponEndpoint} {
		if endpoint == "" {
			continue
		}
		client := detection.NewInferenceClient(endpoint, cfg.Inference.Timeout.D())
		if client.IsHealthy(ctx) {
			logger.Printf("inference service at %s is ready", endpoint)
		} else {
			logger.Printf("inference service at %s is not ready yet", endpoint)
		}
	}
}
