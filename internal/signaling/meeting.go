package signaling

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Word pools for memorable meeting ids. Four pools, one word drawn from each,
// keep ids pronounceable while leaving ~800k combinations.
var subjects = []string{
	"algebra", "biology", "chemistry", "calculus", "history", "physics", "geometry", "grammar", "botany", "logic",
	"geography", "literature", "painting", "music", "coding", "robotics", "anatomy", "economy", "ethics", "drama",
	"astronomy", "geology", "civics", "statistics", "rhetoric", "zoology", "philosophy", "design", "poetry", "dance",
}

var qualities = []string{
	"bright", "curious", "eager", "steady", "quick", "calm", "keen", "bold", "quiet", "sharp",
	"gentle", "clever", "patient", "lively", "focused", "merry", "brave", "swift", "sunny", "wise",
	"golden", "silver", "crimson", "emerald", "violet", "amber", "cobalt", "coral", "ivory", "jade",
}

var creatures = []string{
	"owl", "fox", "otter", "panda", "heron", "lynx", "finch", "badger", "dolphin", "falcon",
	"gecko", "ibis", "koala", "lemur", "marmot", "newt", "osprey", "puffin", "quail", "raven",
	"seal", "tapir", "urchin", "vole", "wren", "yak", "zebra", "bison", "crane", "dingo",
}

var places = []string{
	"meadow", "harbor", "summit", "grove", "canyon", "lagoon", "prairie", "glacier", "valley", "delta",
	"mesa", "fjord", "atoll", "dune", "ridge", "basin", "steppe", "tundra", "marsh", "cove",
	"orchard", "plateau", "savanna", "islet", "cavern", "gorge", "oasis", "reef", "moor", "glade",
}

// newMeetingID creates a random, memorable meeting id of the form
// subject-quality-creature-place (e.g. "botany-keen-otter-lagoon"). It keeps
// drawing until the id is not rejected by taken.
func newMeetingID(taken func(string) bool) string {
	for {
		id := fmt.Sprintf("%s-%s-%s-%s",
			subjects[randomIndex(len(subjects))],
			qualities[randomIndex(len(qualities))],
			creatures[randomIndex(len(creatures))],
			places[randomIndex(len(places))],
		)
		if !taken(id) {
			return id
		}
	}
}

// randomIndex returns a cryptographically secure random index for a slice of given length.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		// crypto/rand failing means the platform entropy source is broken;
		// nothing sensible to do but stop.
		panic(fmt.Sprintf("failed to generate random index: %v", err))
	}
	return int(n.Int64())
}
