package processor

import "inferno/jobstore"

// DefaultTable wires one JobTypeProcessor per job type.
func DefaultTable(tts TTS, vc VoiceConversion, vst VideoStyleTransfer, ls LipSync, ig ImageGeneration) map[jobstore.JobType]JobTypeProcessor {
	return map[jobstore.JobType]JobTypeProcessor{
		jobstore.JobTypeTTS:                tts,
		jobstore.JobTypeVoiceConversion:    vc,
		jobstore.JobTypeVideoStyleTransfer: vst,
		jobstore.JobTypeLipSync:            ls,
		jobstore.JobTypeImageGeneration:    ig,
	}
}
