package arena

import "sort"

// Payout is the share of the pot owed to one human participant.
type Payout struct {
	ID        ParticipantID
	Amount    int64
	Placement int
}

// Payouts distributes pot for a terminal outcome. A winner takes the whole
// pot. On a tie the pot is split evenly among human participants and the
// remainder goes to the first human in participant order. Bots never
// receive a payout, so a bot winner leaves the pot unpaid.
func Payouts(out Outcome, participants []ParticipantID, pot int64) []Payout {
	if pot < 0 {
		pot = 0
	}
	if out.Winner != nil {
		if out.Winner.IsBot() {
			return nil
		}
		return []Payout{{ID: *out.Winner, Amount: pot, Placement: 1}}
	}

	humans := make([]ParticipantID, 0, len(participants))
	for _, id := range participants {
		if !id.IsBot() {
			humans = append(humans, id)
		}
	}
	if len(humans) == 0 {
		return nil
	}
	sort.Slice(humans, func(i, j int) bool { return humans[i].Less(humans[j]) })

	n := int64(len(humans))
	share, rem := pot/n, pot%n
	payouts := make([]Payout, len(humans))
	for i, id := range humans {
		payouts[i] = Payout{ID: id, Amount: share, Placement: 1}
	}
	payouts[0].Amount += rem
	return payouts
}
