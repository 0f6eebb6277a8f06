package linkage

import "math/big"

// GetLinkage returns a copy of the stored linkage.
func (e *Engine) GetLinkage(key Key) (*Linkage, bool, error) {
	var (
		out *Linkage
		ok  bool
	)
	err := e.view(func(tx StateTx) error {
		l, found, err := tx.Linkage(key)
		if err != nil {
			return err
		}
		out, ok = l.Clone(), found
		return nil
	})
	return out, ok, err
}

// GetMetadata returns the linkage's metadata.
func (e *Engine) GetMetadata(key Key) (*Metadata, bool, error) {
	var (
		out *Metadata
		ok  bool
	)
	err := e.view(func(tx StateTx) error {
		m, found, err := tx.Metadata(key)
		if err != nil {
			return err
		}
		out, ok = m.Clone(), found
		return nil
	})
	return out, ok, err
}

// GetVote returns the ballot verifier cast on the linkage, if any.
func (e *Engine) GetVote(key Key, verifier [20]byte) (*Vote, bool, error) {
	var (
		out *Vote
		ok  bool
	)
	err := e.view(func(tx StateTx) error {
		v, found, err := tx.Vote(key, verifier)
		if err != nil {
			return err
		}
		out, ok = v.Clone(), found
		return nil
	})
	return out, ok, err
}

// ListVotes returns every ballot cast on the linkage in casting order.
func (e *Engine) ListVotes(key Key) ([]*Vote, error) {
	var out []*Vote
	err := e.view(func(tx StateTx) error {
		voters, err := tx.Voters(key)
		if err != nil {
			return err
		}
		out = make([]*Vote, 0, len(voters))
		for _, voter := range voters {
			v, ok, err := tx.Vote(key, voter)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, v.Clone())
			}
		}
		return nil
	})
	return out, err
}

// GetDispute returns the active or retained dispute record.
func (e *Engine) GetDispute(key Key) (*Dispute, bool, error) {
	var (
		out *Dispute
		ok  bool
	)
	err := e.view(func(tx StateTx) error {
		d, found, err := tx.Dispute(key)
		if err != nil {
			return err
		}
		out, ok = d.Clone(), found
		return nil
	})
	return out, ok, err
}

// GetRevenueShare returns participant's share of the linkage.
func (e *Engine) GetRevenueShare(key Key, participant [20]byte) (*RevenueShare, bool, error) {
	var (
		out *RevenueShare
		ok  bool
	)
	err := e.view(func(tx StateTx) error {
		s, found, err := tx.RevenueShare(key, participant)
		if err != nil {
			return err
		}
		out, ok = s.Clone(), found
		return nil
	})
	return out, ok, err
}

// ListRevenueShares returns every share configured on the linkage in the
// order participants were first assigned.
func (e *Engine) ListRevenueShares(key Key) ([]*RevenueShare, error) {
	var out []*RevenueShare
	err := e.view(func(tx StateTx) error {
		participants, err := tx.ShareParticipants(key)
		if err != nil {
			return err
		}
		out = make([]*RevenueShare, 0, len(participants))
		for _, participant := range participants {
			s, ok, err := tx.RevenueShare(key, participant)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, s.Clone())
			}
		}
		return nil
	})
	return out, err
}

// TotalLinkages returns the number of linkages ever created.
func (e *Engine) TotalLinkages() (uint64, error) {
	var total uint64
	err := e.view(func(tx StateTx) error {
		var err error
		total, err = tx.TotalLinkages()
		return err
	})
	return total, err
}

// EscrowTotal returns the value currently held in escrow.
func (e *Engine) EscrowTotal() (*big.Int, error) {
	var total *big.Int
	err := e.view(func(tx StateTx) error {
		v, err := tx.EscrowTotal()
		if err != nil {
			return err
		}
		total = cloneBigInt(v)
		return nil
	})
	return total, err
}

// IsPaused reports the pause switch.
func (e *Engine) IsPaused() (bool, error) {
	var paused bool
	err := e.view(func(tx StateTx) error {
		var err error
		paused, err = tx.Paused()
		return err
	})
	return paused, err
}

// Authority returns the current dispute and admin authority.
func (e *Engine) Authority() ([20]byte, error) {
	var authority [20]byte
	err := e.view(func(tx StateTx) error {
		var err error
		authority, err = tx.Authority()
		return err
	})
	return authority, err
}
