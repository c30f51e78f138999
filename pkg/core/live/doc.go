// Package live runs the realtime audio side of a phone call.
//
// A Coordinator owns one call's pipeline. Inbound frames are decoded to PCM16
// and segmented into utterances by energy; each utterance is transcribed,
// handed to the conversation manager, and the reply is synthesized one
// sentence at a time and streamed back through a Sink.
//
// # State Machine
//
//	IDLE → LISTENING → TRANSCRIBING → GENERATING → SPEAKING → LISTENING
//
// Speech detected while SPEAKING is a barge-in: the turn sequence advances,
// the sink is told to break, and any synthesized audio still in flight for the
// old sequence is dropped.
//
// Utterances that finish while the pipeline is busy are queued and handled in
// order. A failed transcription returns to LISTENING without recording a turn.
// A failed reply is replaced by a spoken apology; repeated failures escalate
// to a transfer when an escalation number is configured.
package live
