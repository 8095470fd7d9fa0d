package contract

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contract-lab/hashing"
)

// Each attack is run against both machines: it must land on the vulnerable
// variant and bounce off the secure one.

func TestAttack_ReentrantWithdraw(t *testing.T) {
	t.Run("drains_vulnerable", func(t *testing.T) {
		vulnerable, world := newVulnerableForTest(t)
		require.NoError(t, vulnerable.Deposit(malloryAddr, uint256.NewInt(5)))

		reentered := 0
		world.onPay = func(to common.Address, amount *uint256.Int) error {
			if reentered < 1 {
				reentered++
				// The payee calls straight back in while its balance
				// has not been zeroed yet.
				require.NoError(t, vulnerable.Withdraw(malloryAddr))
			}
			return nil
		}

		require.NoError(t, vulnerable.Withdraw(malloryAddr))

		assert.Equal(t, uint256.NewInt(10), world.paidTo(malloryAddr),
			"one deposit of 5 cashed out twice")
		assert.True(t, vulnerable.State().BalanceOf(malloryAddr).IsZero())
	})

	t.Run("rejected_by_secure", func(t *testing.T) {
		secure, world := newSecureForTest(t)
		require.NoError(t, secure.Deposit(malloryAddr, uint256.NewInt(5)))

		var nestedErr error
		world.onPay = func(to common.Address, amount *uint256.Int) error {
			nestedErr = secure.Withdraw(malloryAddr)
			return nil
		}

		require.NoError(t, secure.Withdraw(malloryAddr))

		require.ErrorIs(t, nestedErr, ErrReentrantCall)
		assert.Equal(t, uint256.NewInt(5), world.paidTo(malloryAddr),
			"exactly one payout, zeroing applied exactly once")
		assert.True(t, secure.State().BalanceOf(malloryAddr).IsZero())
	})
}

func TestAttack_OwnershipHijack(t *testing.T) {
	t.Run("succeeds_on_vulnerable", func(t *testing.T) {
		vulnerable, _ := newVulnerableForTest(t)
		require.NoError(t, vulnerable.ChangeOwner(malloryAddr, malloryAddr))
		assert.Equal(t, malloryAddr, vulnerable.State().Owner)
	})

	t.Run("rejected_by_secure", func(t *testing.T) {
		secure, _ := newSecureForTest(t)
		require.ErrorIs(t, secure.ChangeOwner(malloryAddr, malloryAddr), ErrNotOwner)
		assert.Equal(t, ownerAddr, secure.State().Owner)
	})
}

func TestAttack_BalanceOverflow(t *testing.T) {
	maxValue := new(uint256.Int).SetAllOne()

	t.Run("wraps_on_vulnerable", func(t *testing.T) {
		vulnerable, _ := newVulnerableForTest(t)
		require.NoError(t, vulnerable.Deposit(malloryAddr, maxValue))
		require.NoError(t, vulnerable.Deposit(malloryAddr, uint256.NewInt(2)))

		assert.Equal(t, uint256.NewInt(1), vulnerable.State().BalanceOf(malloryAddr),
			"the balance silently wrapped around zero")
	})

	t.Run("rejected_by_secure", func(t *testing.T) {
		secure, _ := newSecureForTest(t)
		require.NoError(t, secure.Deposit(malloryAddr, maxValue))
		require.ErrorIs(t, secure.Deposit(malloryAddr, uint256.NewInt(2)), ErrOverflow)
		assert.Equal(t, maxValue, secure.State().BalanceOf(malloryAddr))
	})

	t.Run("transfer_credit_wraps_on_vulnerable", func(t *testing.T) {
		vulnerable, _ := newVulnerableForTest(t)
		require.NoError(t, vulnerable.Deposit(bobAddr, maxValue))
		require.NoError(t, vulnerable.Deposit(malloryAddr, uint256.NewInt(3)))

		require.NoError(t, vulnerable.Transfer(malloryAddr, bobAddr, uint256.NewInt(3)))
		assert.Equal(t, uint256.NewInt(2), vulnerable.State().BalanceOf(bobAddr),
			"the recipient lost almost everything to the wrap")
	})
}

func TestAttack_DoubleVoting(t *testing.T) {
	t.Run("succeeds_on_vulnerable", func(t *testing.T) {
		vulnerable, _ := newVulnerableForTest(t)
		require.NoError(t, vulnerable.RegisterCandidate(ownerAddr, "north"))

		require.NoError(t, vulnerable.Vote(malloryAddr, 0))
		require.NoError(t, vulnerable.Vote(malloryAddr, 0))
		require.NoError(t, vulnerable.Vote(malloryAddr, 0))

		assert.Equal(t, uint64(3), vulnerable.State().Candidates[0].VoteCount)
	})

	t.Run("rejected_by_secure", func(t *testing.T) {
		secure, _ := newSecureForTest(t)
		require.NoError(t, secure.RegisterCandidate(ownerAddr, "north"))

		require.NoError(t, secure.Vote(malloryAddr, 0))
		require.ErrorIs(t, secure.Vote(malloryAddr, 0), ErrAlreadyVoted)

		assert.Equal(t, uint64(1), secure.State().Candidates[0].VoteCount)
	})
}

func TestAttack_CredentialDisclosure(t *testing.T) {
	t.Run("plaintext_on_vulnerable", func(t *testing.T) {
		vulnerable, _ := newVulnerableForTest(t)
		require.NoError(t, vulnerable.Register(aliceAddr, "alice", "hunter2"))

		password, ok := vulnerable.StoredPassword(aliceAddr)
		require.True(t, ok)
		assert.Equal(t, "hunter2", password, "the stored secret is readable as-is")
	})

	t.Run("digests_only_on_secure", func(t *testing.T) {
		secure, _ := newSecureForTest(t)
		require.NoError(t, secure.Register(aliceAddr, "alice", "hunter2"))

		credential := secure.State().Credentials[aliceAddr]
		assert.NotContains(t, credential.PasswordHash.Hex(), "hunter2")
		assert.True(t, secure.VerifyUser(aliceAddr, "hunter2"))
	})
}

func TestAttack_PrecisionLoss(t *testing.T) {
	t.Run("truncates_on_vulnerable", func(t *testing.T) {
		vulnerable, _ := newVulnerableForTest(t)
		quotient, err := vulnerable.Divide(uint256.NewInt(5), uint256.NewInt(2))
		require.NoError(t, err)
		assert.Equal(t, uint256.NewInt(2), quotient, "the fractional half is gone")

		quotient, err = vulnerable.Divide(uint256.NewInt(5), uint256.NewInt(0))
		require.NoError(t, err, "division by zero is not even reported")
		assert.True(t, quotient.IsZero())
	})

	t.Run("scaled_on_secure", func(t *testing.T) {
		secure, _ := newSecureForTest(t)
		quotient, err := secure.Divide(uint256.NewInt(5), uint256.NewInt(2))
		require.NoError(t, err)
		assert.Equal(t, uint256.MustFromDecimal("2500000000000000000"), quotient)
	})
}

func TestAttack_UnprotectedDelegation(t *testing.T) {
	steal := PluginFunc(func(state *State, caller common.Address, payload []byte) error {
		state.Owner = caller
		return nil
	})

	t.Run("succeeds_on_vulnerable", func(t *testing.T) {
		vulnerable, _ := newVulnerableForTest(t)
		vulnerable.RegisterPlugin(pluginAddr, steal)

		require.NoError(t, vulnerable.Execute(malloryAddr, pluginAddr, nil))
		assert.Equal(t, malloryAddr, vulnerable.State().Owner,
			"anyone can run delegated code against the contract state")
	})

	t.Run("rejected_by_secure", func(t *testing.T) {
		secure, _ := newSecureForTest(t)
		require.NoError(t, secure.RegisterPlugin(pluginAddr, steal))

		require.ErrorIs(t, secure.Execute(malloryAddr, pluginAddr, nil), ErrNotOwner)
		assert.Equal(t, ownerAddr, secure.State().Owner)
	})
}

func TestAttack_PredictableLottery(t *testing.T) {
	t.Run("block_time_decides_vulnerable", func(t *testing.T) {
		vulnerable, world := newVulnerableForTest(t)

		world.blockTime = 1700000000 // even
		assert.True(t, vulnerable.IsLuckyWinner(malloryAddr))

		world.blockTime = 1700000001 // odd
		assert.False(t, vulnerable.IsLuckyWinner(malloryAddr),
			"whoever sets the block time decides the draw outright")
	})

	t.Run("parent_hash_still_grindable_on_secure", func(t *testing.T) {
		secure, world := newSecureForTest(t)
		hasher := hashing.NewService()

		// The draw is a pure function of the parent hash, so a block
		// producer choosing among candidate parents steers it at will;
		// the seed is only better than the clock, not safe.
		for _, parent := range []common.Hash{{0x01}, {0x02}, {0x03}} {
			world.parent = parent
			digest := hasher.Keccak256Hash(parent.Bytes(), malloryAddr.Bytes())
			assert.Equal(t, digest[common.HashLength-1]&1 == 1, secure.IsLuckyWinner(malloryAddr))
		}
	})
}
