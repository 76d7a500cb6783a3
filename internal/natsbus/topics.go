package natsbus

import "fmt"

// Subject layout for round traffic. Every subject lives under SubjectAll so a
// single stream captures the whole round.

const SubjectAll = "swarmvote.>"

func TopicReady(round string) string {
	return fmt.Sprintf("swarmvote.%s.ready", round)
}

func TopicProposal(round string) string {
	return fmt.Sprintf("swarmvote.%s.proposal", round)
}
