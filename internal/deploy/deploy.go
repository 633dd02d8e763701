// Package deploy assembles the contract suite on one ledger host and performs
// the one-time role setup each contract needs before it can be used:
//
//  1. Bootstrap: admin receives DEFAULT_ADMIN_ROLE on every contract.
//  2. Collaborator roles: staking may mint rewards, the bridge may mint and
//     burn its token, the collection may mint assets.
//  3. Signer roles: the voucher signer gets SIGNER_ROLE, plus CURATOR_ROLE on
//     the bridge so the relay can submit secure redemptions.
//  4. Destinations: the bridge's destination registry is populated.
//  5. Vault, when deployed: admin curates custody, the signer gets SIGNER_ROLE.
//
// Everything happens in one transition that also writes deployment markers,
// so a restart against the same store never repeats a step.
package deploy

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-voucher-ledger/internal/asset"
	"github.com/0gfoundation/0g-voucher-ledger/internal/auth"
	"github.com/0gfoundation/0g-voucher-ledger/internal/bridge"
	"github.com/0gfoundation/0g-voucher-ledger/internal/collection"
	"github.com/0gfoundation/0g-voucher-ledger/internal/ledger"
	"github.com/0gfoundation/0g-voucher-ledger/internal/roles"
	"github.com/0gfoundation/0g-voucher-ledger/internal/staking"
	"github.com/0gfoundation/0g-voucher-ledger/internal/token"
	"github.com/0gfoundation/0g-voucher-ledger/internal/vault"
)

// Plan names the contract addresses of one deployment. Contracts that share
// an address share state: staking usually holds the collection's assets.
type Plan struct {
	ChainID uint64

	StakingContract common.Address
	StakingAssets   common.Address
	RewardToken     common.Address
	Rate            *big.Int

	BridgeContract common.Address
	BridgeToken    common.Address

	CollectionContract common.Address
	CollectionAssets   common.Address
	MaxPerVoucher      int
	PreviewURI         string

	// VaultContract is optional; the zero address deploys no vault.
	VaultContract common.Address
	VaultAssets   common.Address
}

// Suite is a deployed set of contracts.
type Suite struct {
	Host       *ledger.Host
	Staking    *staking.Ledger
	Bridge     *bridge.Ledger
	Collection *collection.Collection
	Vault      *vault.Vault // nil without Plan.VaultContract

	tokens map[common.Address]*token.Token
	assets map[common.Address]*asset.Registry
}

// Build constructs every contract of p on host. rec may be nil for
// personal-sign recovery.
func Build(host *ledger.Host, p Plan, rec auth.Recoverer, log *zap.Logger) *Suite {
	s := &Suite{
		Host:   host,
		tokens: make(map[common.Address]*token.Token),
		assets: make(map[common.Address]*asset.Registry),
	}
	rate := p.Rate
	if rate == nil {
		rate = staking.DefaultRate
	}
	s.Staking = staking.New(host, p.StakingContract, s.registry(p.StakingAssets), s.token(p.RewardToken), rate, log)
	s.Bridge = bridge.New(host, p.ChainID, p.BridgeContract, s.token(p.BridgeToken), rec, log)
	s.Collection = collection.New(host, collection.Config{
		Address:       p.CollectionContract,
		MaxPerVoucher: p.MaxPerVoucher,
		PreviewURI:    p.PreviewURI,
	}, s.registry(p.CollectionAssets), rec, log)
	if p.VaultContract != (common.Address{}) {
		s.Vault = vault.New(host, p.VaultContract, s.registry(p.VaultAssets), rec, log)
	}
	return s
}

func (s *Suite) token(addr common.Address) *token.Token {
	if t, ok := s.tokens[addr]; ok {
		return t
	}
	t := token.New(addr)
	s.tokens[addr] = t
	return t
}

func (s *Suite) registry(addr common.Address) *asset.Registry {
	if r, ok := s.assets[addr]; ok {
		return r
	}
	r := asset.New(addr)
	s.assets[addr] = r
	return r
}

// Token returns the fungible token deployed at addr, if any.
func (s *Suite) Token(addr common.Address) (*token.Token, bool) {
	t, ok := s.tokens[addr]
	return t, ok
}

// Registry returns the asset registry deployed at addr, if any.
func (s *Suite) Registry(addr common.Address) (*asset.Registry, bool) {
	r, ok := s.assets[addr]
	return r, ok
}

// RoleSets lists the capability set of every contract, one per address.
func (s *Suite) RoleSets() []*roles.Roles {
	seen := make(map[common.Address]bool)
	var out []*roles.Roles
	add := func(r *roles.Roles) {
		if !seen[r.Contract()] {
			seen[r.Contract()] = true
			out = append(out, r)
		}
	}
	add(s.Bridge.Roles())
	add(s.Collection.Roles())
	if s.Vault != nil {
		add(s.Vault.Roles())
	}
	for _, t := range s.tokens {
		add(t.Roles())
	}
	for _, r := range s.assets {
		add(r.Roles())
	}
	return out
}

// A part is one unit of one-time setup, guarded by its own marker so that a
// contract added to an existing deployment is set up without repeating the
// rest.
type part struct {
	marker string
	sets   []*roles.Roles
	grants []grant
	after  func(tx *ledger.Tx) error
}

type grant struct {
	r    *roles.Roles
	role common.Hash
	to   common.Address
}

// vaultSets are the capability sets owned by the vault part: the vault itself
// and its registry unless another contract already brings that registry.
func (s *Suite) vaultSets() []*roles.Roles {
	if s.Vault == nil {
		return nil
	}
	out := []*roles.Roles{s.Vault.Roles()}
	if a := s.Vault.Assets(); a != s.Staking.Assets() && a != s.Collection.Assets() {
		out = append(out, a.Roles())
	}
	return out
}

func (s *Suite) parts(admin, signer common.Address, destinations map[uint64]common.Address) []part {
	vaultOwned := make(map[common.Address]bool)
	for _, r := range s.vaultSets() {
		vaultOwned[r.Contract()] = true
	}
	var coreSets []*roles.Roles
	for _, r := range s.RoleSets() {
		if !vaultOwned[r.Contract()] {
			coreSets = append(coreSets, r)
		}
	}

	core := part{
		marker: ledger.Key("deploy",
			ledger.AddrKey(s.Staking.Address()),
			ledger.AddrKey(s.Bridge.Address()),
			ledger.AddrKey(s.Collection.Address()),
		),
		sets: coreSets,
		grants: []grant{
			{s.Staking.RewardToken().Roles(), roles.MinterRole, s.Staking.Address()},
			{s.Bridge.Token().Roles(), roles.MinterRole, s.Bridge.Address()},
			{s.Bridge.Token().Roles(), roles.BurnerRole, s.Bridge.Address()},
			{s.Collection.Assets().Roles(), roles.MinterRole, s.Collection.Address()},
			{s.Bridge.Roles(), roles.CuratorRole, admin},
		},
		after: func(tx *ledger.Tx) error {
			for chainID, contract := range destinations {
				if err := s.Bridge.SetDestination(tx, admin, chainID, contract); err != nil {
					return fmt.Errorf("add destination %d: %w", chainID, err)
				}
			}
			return nil
		},
	}
	if signer != (common.Address{}) {
		core.grants = append(core.grants,
			grant{s.Bridge.Roles(), roles.SignerRole, signer},
			grant{s.Bridge.Roles(), roles.CuratorRole, signer},
			grant{s.Collection.Roles(), roles.SignerRole, signer},
		)
	}
	out := []part{core}

	if s.Vault != nil {
		v := part{
			marker: ledger.Key("deploy", "vault", ledger.AddrKey(s.Vault.Address())),
			sets:   s.vaultSets(),
			grants: []grant{{s.Vault.Roles(), roles.CuratorRole, admin}},
		}
		if signer != (common.Address{}) {
			v.grants = append(v.grants, grant{s.Vault.Roles(), roles.SignerRole, signer})
		}
		out = append(out, v)
	}
	return out
}

// Deployed reports whether Setup has already run for every contract of the
// suite.
func (s *Suite) Deployed(ctx context.Context) (bool, error) {
	done := true
	err := s.Host.View(ctx, func(tx *ledger.Tx) error {
		for _, p := range s.parts(common.Address{}, common.Address{}, nil) {
			ok, err := tx.Has(p.marker)
			if err != nil {
				return err
			}
			done = done && ok
		}
		return nil
	})
	return done, err
}

// Setup grants the roles the suite needs. signer may be the zero address when
// vouchers are signed elsewhere; SIGNER_ROLE is then left to the admin.
// Setup runs once per store: later calls change nothing, so roles revoked
// after deployment stay revoked across restarts.
func (s *Suite) Setup(ctx context.Context, admin, signer common.Address, destinations map[uint64]common.Address) error {
	parts := s.parts(admin, signer, destinations)
	return s.Host.Execute(ctx, func(tx *ledger.Tx) error {
		for _, p := range parts {
			done, err := tx.Has(p.marker)
			if err != nil {
				return err
			}
			if done {
				continue
			}
			for _, r := range p.sets {
				r.Bootstrap(tx, admin)
			}
			for _, g := range p.grants {
				if err := g.r.Grant(tx, admin, g.role, g.to); err != nil {
					return fmt.Errorf("grant %s on %s: %w", roles.Name(g.role), g.r.Contract().Hex(), err)
				}
			}
			if p.after != nil {
				if err := p.after(tx); err != nil {
					return err
				}
			}
			tx.Put(p.marker, []byte{1})
		}
		return nil
	})
}
