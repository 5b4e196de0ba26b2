package staking

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"defiapps/native/bank"
	nativecommon "defiapps/native/common"
)

// AccPrecision scales AccRewardPerShare.
const AccPrecision = 1_000_000_000_000

var (
	errNilState = errors.New("staking engine: state not configured")

	// ErrPoolNotFound is returned for unknown pool addresses.
	ErrPoolNotFound = errors.New("staking engine: pool not found")

	accPrecision = uint256.NewInt(AccPrecision)
)

const moduleName = "staking"

// Storage abstracts the state manager methods the staking engine needs.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Engine manages staking pools. Each pool address holds both the staked
// tokens and the reward budget; users approve the pool address before
// depositing.
type Engine struct {
	state  Storage
	ledger bank.TransferAuthority
	pauses nativecommon.PauseView
	nowFn  func() time.Time
}

func NewEngine() *Engine {
	return &Engine{nowFn: time.Now}
}

func (e *Engine) SetState(state Storage) { e.state = state }

func (e *Engine) SetLedger(ledger bank.TransferAuthority) { e.ledger = ledger }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetClock overrides the time source used for reward accrual.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

func (e *Engine) now() uint64 {
	ts := e.nowFn().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.ledger == nil {
		return errNilState
	}
	return nil
}

// PoolAddress derives the address of the seq-th pool.
func PoolAddress(creator, stakedToken, rewardToken common.Address, seq uint64) common.Address {
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], seq)
	hash := crypto.Keccak256(creator.Bytes(), stakedToken.Bytes(), rewardToken.Bytes(), nonce[:])
	return common.BytesToAddress(hash[12:])
}

// CreatePool registers a new pool. The creator funds rewards by transferring
// RewardToken to the returned pool address.
func (e *Engine) CreatePool(creator, stakedToken, rewardToken common.Address, rewardPerSecond *big.Int, start, end uint64) (*Pool, error) {
	if creator == (common.Address{}) || stakedToken == (common.Address{}) || rewardToken == (common.Address{}) {
		return nil, nativecommon.ErrInvalidAddress
	}
	if rewardPerSecond == nil || rewardPerSecond.Sign() <= 0 {
		return nil, nativecommon.ErrInvalidAmount
	}
	if _, err := toUint(rewardPerSecond); err != nil {
		return nil, err
	}
	if end <= start {
		return nil, fmt.Errorf("%w: reward period must end after it starts", nativecommon.ErrInvalidConfig)
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	var seq uint64
	if _, err := e.state.KVGet(sequenceKey, &seq); err != nil {
		return nil, err
	}
	pool := &Pool{
		Address:           PoolAddress(creator, stakedToken, rewardToken, seq),
		Creator:           creator,
		StakedToken:       stakedToken,
		RewardToken:       rewardToken,
		RewardPerSecond:   new(big.Int).Set(rewardPerSecond),
		StartTime:         start,
		EndTime:           end,
		LastRewardTime:    start,
		AccRewardPerShare: big.NewInt(0),
		TotalStaked:       big.NewInt(0),
	}
	if now := e.now(); now > start {
		pool.LastRewardTime = now
	}
	if err := e.state.KVPut(sequenceKey, seq+1); err != nil {
		return nil, err
	}
	if err := e.storePool(pool); err != nil {
		return nil, err
	}
	if err := e.state.KVAppend(poolIndexKey, pool.Address.Bytes()); err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

// GetPool returns the pool with rewards projected to now.
func (e *Engine) GetPool(addr common.Address) (*Pool, error) {
	pool, err := e.pool(addr)
	if err != nil {
		return nil, err
	}
	if err := updatePool(pool, e.now()); err != nil {
		return nil, err
	}
	return pool, nil
}

// AllPools returns every pool in creation order.
func (e *Engine) AllPools() ([]*Pool, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var index [][]byte
	if err := e.state.KVGetList(poolIndexKey, &index); err != nil {
		return nil, err
	}
	now := e.now()
	pools := make([]*Pool, 0, len(index))
	for _, raw := range index {
		pool, err := e.loadPool(common.BytesToAddress(raw))
		if err != nil {
			return nil, err
		}
		if pool == nil {
			continue
		}
		if err := updatePool(pool, now); err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, nil
}

// GetStake returns the position of user in pool.
func (e *Engine) GetStake(user, poolAddr common.Address) (*Stake, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.loadStake(poolAddr, user)
}

// PendingReward returns the reward user would harvest now.
func (e *Engine) PendingReward(user, poolAddr common.Address) (*big.Int, error) {
	pool, err := e.GetPool(poolAddr)
	if err != nil {
		return nil, err
	}
	stake, err := e.loadStake(poolAddr, user)
	if err != nil {
		return nil, err
	}
	pending, err := pendingReward(pool, stake)
	if err != nil {
		return nil, err
	}
	return pending.ToBig(), nil
}

// Deposit stakes amount and harvests any pending reward. A zero amount only
// harvests. It returns the reward paid.
func (e *Engine) Deposit(user, poolAddr common.Address, amount *big.Int) (*big.Int, error) {
	if user == (common.Address{}) {
		return nil, nativecommon.ErrInvalidAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, nativecommon.ErrInvalidAmount
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	pool, stake, err := e.settle(user, poolAddr)
	if err != nil {
		return nil, err
	}
	reward, err := e.harvest(user, pool, stake)
	if err != nil {
		return nil, err
	}
	if amount.Sign() > 0 {
		if err := e.ledger.TransferFrom(pool.StakedToken, pool.Address, user, pool.Address, amount); err != nil {
			return nil, err
		}
		stake.Amount.Add(stake.Amount, amount)
		pool.TotalStaked.Add(pool.TotalStaked, amount)
	}
	if err := e.commit(user, pool, stake); err != nil {
		return nil, err
	}
	return reward, nil
}

// Withdraw unstakes amount after harvesting pending reward. A zero amount only
// harvests. It returns the reward paid.
func (e *Engine) Withdraw(user, poolAddr common.Address, amount *big.Int) (*big.Int, error) {
	if user == (common.Address{}) {
		return nil, nativecommon.ErrInvalidAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, nativecommon.ErrInvalidAmount
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	pool, stake, err := e.settle(user, poolAddr)
	if err != nil {
		return nil, err
	}
	if stake.Amount.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: staked %s, withdrawing %s", nativecommon.ErrInsufficientFunds, stake.Amount, amount)
	}
	reward, err := e.harvest(user, pool, stake)
	if err != nil {
		return nil, err
	}
	if amount.Sign() > 0 {
		stake.Amount.Sub(stake.Amount, amount)
		pool.TotalStaked.Sub(pool.TotalStaked, amount)
		if err := e.ledger.Transfer(pool.StakedToken, pool.Address, user, amount); err != nil {
			return nil, err
		}
	}
	if err := e.commit(user, pool, stake); err != nil {
		return nil, err
	}
	return reward, nil
}

// EmergencyWithdraw returns the user's whole stake and forfeits any pending
// reward, so principal can leave a pool whose reward budget has run dry.
func (e *Engine) EmergencyWithdraw(user, poolAddr common.Address) (*big.Int, error) {
	if user == (common.Address{}) {
		return nil, nativecommon.ErrInvalidAddress
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	pool, stake, err := e.settle(user, poolAddr)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).Set(stake.Amount)
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("%w: nothing staked", nativecommon.ErrInsufficientFunds)
	}
	if err := e.ledger.Transfer(pool.StakedToken, pool.Address, user, amount); err != nil {
		return nil, err
	}
	pool.TotalStaked.Sub(pool.TotalStaked, amount)
	stake.Amount.SetInt64(0)
	if err := e.commit(user, pool, stake); err != nil {
		return nil, err
	}
	return amount, nil
}

func (e *Engine) settle(user, poolAddr common.Address) (*Pool, *Stake, error) {
	pool, err := e.pool(poolAddr)
	if err != nil {
		return nil, nil, err
	}
	if err := updatePool(pool, e.now()); err != nil {
		return nil, nil, err
	}
	stake, err := e.loadStake(poolAddr, user)
	if err != nil {
		return nil, nil, err
	}
	return pool, stake, nil
}

// harvest pays the pending reward of stake from the pool's reward budget.
func (e *Engine) harvest(user common.Address, pool *Pool, stake *Stake) (*big.Int, error) {
	pending, err := pendingReward(pool, stake)
	if err != nil {
		return nil, err
	}
	if pending.IsZero() {
		return big.NewInt(0), nil
	}
	reward := pending.ToBig()
	budget, err := e.rewardBudget(pool)
	if err != nil {
		return nil, err
	}
	if budget.Cmp(reward) < 0 {
		return nil, fmt.Errorf("%w: reward budget %s below pending %s", nativecommon.ErrInsufficientFunds, budget, reward)
	}
	if err := e.ledger.Transfer(pool.RewardToken, pool.Address, user, reward); err != nil {
		return nil, err
	}
	return reward, nil
}

// rewardBudget excludes staked principal when both tokens coincide.
func (e *Engine) rewardBudget(pool *Pool) (*big.Int, error) {
	balance, err := e.ledger.BalanceOf(pool.RewardToken, pool.Address)
	if err != nil {
		return nil, err
	}
	if pool.RewardToken == pool.StakedToken {
		balance = new(big.Int).Sub(balance, pool.TotalStaked)
		if balance.Sign() < 0 {
			balance.SetInt64(0)
		}
	}
	return balance, nil
}

func (e *Engine) commit(user common.Address, pool *Pool, stake *Stake) error {
	debt, err := accumulated(stake.Amount, pool.AccRewardPerShare)
	if err != nil {
		return err
	}
	stake.RewardDebt = debt.ToBig()
	if err := e.storePool(pool); err != nil {
		return err
	}
	return e.state.KVPut(stakeKey(pool.Address, user), stake)
}

// updatePool advances AccRewardPerShare to now.
func updatePool(pool *Pool, now uint64) error {
	if now <= pool.LastRewardTime {
		return nil
	}
	from := pool.LastRewardTime
	if from < pool.StartTime {
		from = pool.StartTime
	}
	to := now
	if to > pool.EndTime {
		to = pool.EndTime
	}
	pool.LastRewardTime = now
	if pool.TotalStaked.Sign() == 0 || to <= from {
		return nil
	}
	rate, err := toUint(pool.RewardPerSecond)
	if err != nil {
		return err
	}
	staked, err := toUint(pool.TotalStaked)
	if err != nil {
		return err
	}
	reward, overflow := new(uint256.Int).MulOverflow(rate, uint256.NewInt(to-from))
	if overflow {
		return nativecommon.ErrOverflow
	}
	scaled, overflow := new(uint256.Int).MulOverflow(reward, accPrecision)
	if overflow {
		return nativecommon.ErrOverflow
	}
	perShare := scaled.Div(scaled, staked)
	acc, err := toUint(pool.AccRewardPerShare)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(acc, perShare)
	if overflow {
		return nativecommon.ErrOverflow
	}
	pool.AccRewardPerShare = sum.ToBig()
	return nil
}

func pendingReward(pool *Pool, stake *Stake) (*uint256.Int, error) {
	earned, err := accumulated(stake.Amount, pool.AccRewardPerShare)
	if err != nil {
		return nil, err
	}
	debt, err := toUint(stake.RewardDebt)
	if err != nil {
		return nil, err
	}
	if earned.Cmp(debt) <= 0 {
		return new(uint256.Int), nil
	}
	return earned.Sub(earned, debt), nil
}

// accumulated returns amount*acc/AccPrecision.
func accumulated(amount, acc *big.Int) (*uint256.Int, error) {
	a, err := toUint(amount)
	if err != nil {
		return nil, err
	}
	r, err := toUint(acc)
	if err != nil {
		return nil, err
	}
	product, overflow := new(uint256.Int).MulOverflow(a, r)
	if overflow {
		return nil, nativecommon.ErrOverflow
	}
	return product.Div(product, accPrecision), nil
}

func toUint(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, nativecommon.ErrInvalidAmount
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, nativecommon.ErrOverflow
	}
	return out, nil
}

func (e *Engine) pool(addr common.Address) (*Pool, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pool, err := e.loadPool(addr)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrPoolNotFound
	}
	return pool, nil
}

func (e *Engine) loadPool(addr common.Address) (*Pool, error) {
	var pool Pool
	ok, err := e.state.KVGet(poolKey(addr), &pool)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	pool.ensureDefaults()
	return &pool, nil
}

func (e *Engine) storePool(pool *Pool) error {
	pool.ensureDefaults()
	return e.state.KVPut(poolKey(pool.Address), pool)
}

func (e *Engine) loadStake(poolAddr, user common.Address) (*Stake, error) {
	var stake Stake
	if _, err := e.state.KVGet(stakeKey(poolAddr, user), &stake); err != nil {
		return nil, err
	}
	stake.ensureDefaults()
	return &stake, nil
}
