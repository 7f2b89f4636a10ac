package acctmgr

import (
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// SubAccountPublicData is the private-key-free flattening of one derivation
// sub-account: enough to synchronize a watch-only copy's watermarks and, for
// root-based chains, to rebuild the chain from scratch.
type SubAccountPublicData struct {
	AccountID AccountID
	SubID     SubAccountID
	Type      SubAccountType

	// Root is the serialized public-only root entry, or nil for chains
	// that store no root of their own.
	Root []byte

	// Scheme is the serialized derivation scheme.
	Scheme []byte

	UsedIndex     int64
	ComputedIndex int64
}

// AccountPublicData is the private-key-free flattening of an account
// aggregate, used to synchronize a watch-only copy without ever transmitting
// secret material.
type AccountPublicData struct {
	AccountID AccountID

	AddressTypes []AddressType
	DefaultType  AddressType

	OuterID *SubAccountID
	InnerID *SubAccountID

	// TypeOverrides carries the instantiated non-default presentation
	// types.  On import it replaces the target's override map wholesale.
	TypeOverrides map[AssetID]AddressType

	SubAccounts []SubAccountPublicData

	// ExportedAt records when the snapshot was taken.
	ExportedAt time.Time
}

// ExportPublicData flattens the aggregate's current state into a snapshot.
// Private key material never enters the result.
func (a *Account) ExportPublicData() (*AccountPublicData, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	data := &AccountPublicData{
		AccountID:     a.id,
		AddressTypes:  append([]AddressType(nil), a.addressTypes...),
		DefaultType:   a.defaultType,
		TypeOverrides: make(map[AssetID]AddressType, len(a.typeOverrides)),
		ExportedAt:    a.clk.Now(),
	}
	if a.hasOuter {
		outer := a.outerID
		data.OuterID = &outer
	}
	if a.hasInner {
		inner := a.innerID
		data.InnerID = &inner
	}
	for id, t := range a.typeOverrides {
		data.TypeOverrides[id] = t
	}

	for _, subID := range a.subOrder {
		sub := a.subAccounts[subID]

		var rootBytes []byte
		if sub.root != nil {
			publicRoot, err := publicAssetCopy(sub.root)
			if err != nil {
				return nil, err
			}
			rootBytes, err = serializeAssetEntry(publicRoot)
			if err != nil {
				return nil, err
			}
		}

		data.SubAccounts = append(data.SubAccounts, SubAccountPublicData{
			AccountID:     sub.AccountID(),
			SubID:         sub.ID(),
			Type:          sub.Type(),
			Root:          rootBytes,
			Scheme:        sub.scheme.Serialize(),
			UsedIndex:     sub.HighestUsedIndex(),
			ComputedIndex: sub.LastComputedIndex(),
		})
	}

	return data, nil
}

// ImportPublicData synchronizes the aggregate from a snapshot taken from its
// full-wallet counterpart.  Watermarks only ever move up, so replaying an
// old snapshot cannot roll a chain back.  The address-type override map is
// replaced wholesale.  Only in-memory state is touched; committing the
// result is the caller's concern.
func (a *Account) ImportPublicData(data *AccountPublicData) error {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	if data.AccountID != a.id {
		return managerError(ErrIDMismatch, fmt.Sprintf(
			"snapshot of account %x cannot be imported into "+
				"account %x", data.AccountID[:], a.id[:]), nil)
	}

	for _, subData := range data.SubAccounts {
		sub, err := a.subAccount(subData.SubID)
		if err != nil {
			return err
		}

		if subData.ComputedIndex > sub.LastComputedIndex() {
			err := sub.ExtendPublicChainToIndex(nil,
				uint32(subData.ComputedIndex))
			if err != nil {
				return err
			}
		}
		if subData.UsedIndex > sub.HighestUsedIndex() {
			if err := sub.MarkUsed(nil, uint32(subData.UsedIndex)); err != nil {
				return err
			}
		}
	}

	a.typeOverrides = make(map[AssetID]AddressType, len(data.TypeOverrides))
	for id, t := range data.TypeOverrides {
		a.typeOverrides[id] = t
	}

	return nil
}

// NewWatchOnlyAccount constructs a fresh watch-only aggregate from a
// snapshot.  Chains that store no root of their own cannot be rebuilt this
// way since their entries derive from one another; such snapshots can only
// be imported into an existing account.
func NewWatchOnlyAccount(data *AccountPublicData) (*Account, error) {
	a := &Account{id: data.AccountID, clk: clock.NewDefaultClock()}
	a.reset()

	for _, subData := range data.SubAccounts {
		scheme, err := DeserializeScheme(subData.Scheme)
		if err != nil {
			return nil, err
		}

		var root AssetEntry
		if subData.Root != nil {
			rootEntry, err := deserializeAssetEntry(subData.Root)
			if err != nil {
				return nil, err
			}
			// A snapshot never carries private material, but a
			// hand-built one is stripped all the same.
			root, err = publicAssetCopy(rootEntry)
			if err != nil {
				return nil, err
			}
		} else if scheme.Chained() && subData.ComputedIndex >= 0 {
			return nil, managerError(ErrMissingRoot, fmt.Sprintf(
				"sub-account %x derives from its own entries "+
					"and cannot be rebuilt from a snapshot",
				subData.SubID[:]), nil)
		}

		sub := NewSubAccount(data.AccountID, subData.SubID,
			subData.Type, root, scheme)
		if err := a.addSubAccount(sub); err != nil {
			return nil, err
		}

		if subData.ComputedIndex >= 0 {
			err := sub.ExtendPublicChainToIndex(nil,
				uint32(subData.ComputedIndex))
			if err != nil {
				return nil, err
			}
		}
		if subData.UsedIndex >= 0 {
			if err := sub.MarkUsed(nil, uint32(subData.UsedIndex)); err != nil {
				return nil, err
			}
		}
	}

	policy := AccountPolicy{
		AddressTypes: data.AddressTypes,
		DefaultType:  data.DefaultType,
		Outer:        data.OuterID,
		Inner:        data.InnerID,
	}
	if _, err := a.applyPolicy(policy); err != nil {
		return nil, err
	}

	for id, t := range data.TypeOverrides {
		a.typeOverrides[id] = t
	}

	return a, nil
}
