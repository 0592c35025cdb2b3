package scoring

import "reelforge/internal/script"

const analyzerResponseShape = `Respond ONLY with JSON:
{"score": 0-100, "summary": "one sentence", "strengths": ["..."], "weaknesses": ["..."],
 "matchedPatterns": ["..."], "missingPatterns": ["..."],
 "sceneScores": [{"sceneNumber": 1, "score": 0-100}],
 "suggestions": [{"sceneNumber": 1, "priority": "critical|high|medium|low", "area": "...",
   "suggestedText": "full replacement text for the scene", "reasoning": "...",
   "expectedImpact": "...", "scoreDelta": 0-30, "confidence": 0.0-1.0}]}`

// analyzerPrompts are the system prompts for each model-backed analyzer.
var analyzerPrompts = map[script.Step]string{
	script.StepHook: `You critique the opening of short-form video scripts.
Judge only the first scene: does it stop the scroll within two seconds, promise a payoff, and speak to the viewer?

` + analyzerResponseShape,
	script.StepStructure: `You critique the structure of short-form video scripts.
Judge scene count, pacing, runtime, and whether each scene earns its place.

` + analyzerResponseShape,
	script.StepEmotional: `You critique the emotional impact of short-form video scripts.
Judge tension, surprise, relatability, and whether the script gives viewers a reason to share it.

` + analyzerResponseShape,
	script.StepCTA: `You critique the call to action of short-form video scripts.
Judge whether the final scene gives one clear, low-friction next step.

` + analyzerResponseShape,
}

// SynthesisPrompt combines the four analyzer critiques.
const SynthesisPrompt = `You combine four critiques (hook, structure, emotional, cta) of a short-form video script into one verdict.
Weigh the hook most heavily. Rank recommendations by expected impact and keep only ones that change a scene's text.
Engagement predictions are percentage ranges, never point estimates.

Respond ONLY with JSON:
{"overallScore": 0-100, "confidence": 0.0-1.0,
 "strengths": ["..."], "weaknesses": ["..."],
 "matchedPatterns": ["..."], "missingPatterns": ["..."],
 "engagement": {"retention": {"low": 0, "high": 0}, "saves": {"low": 0, "high": 0}, "shares": {"low": 0, "high": 0}},
 "recommendations": [{"sceneNumber": 1, "priority": "high", "area": "...", "suggestedText": "...",
   "reasoning": "...", "expectedImpact": "...", "scoreDelta": 0, "confidence": 0.0, "sourceAgent": "hook"}],
 "details": {}}

For content type "reel", details is {"hookSeconds": 0, "loopPotential": false, "trendingFormats": [], "pacingNotes": ""}.
For "news", details is {"headline": "", "timeliness": "", "factualClaims": [], "sourcesCited": 0, "neutralityNote": ""}.
For "custom", details is {"format": "", "fields": {}}.`
