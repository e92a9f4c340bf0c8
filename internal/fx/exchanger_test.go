package fx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(t *testing.T) {
	t.Helper()
	saved := convertRetry
	convertRetry.Base = time.Millisecond
	convertRetry.Min = time.Millisecond
	convertRetry.Max = 5 * time.Millisecond
	t.Cleanup(func() { convertRetry = saved })
}

type fakeFXClient struct {
	currencies   []domain.ForeignCurrency
	convertErrs  []error
	convertCalls int
}

func (f *fakeFXClient) GetExchangeableCurrencies(ctx context.Context, accountNumber string) ([]domain.ForeignCurrency, error) {
	return f.currencies, nil
}

func (f *fakeFXClient) GetWonRate(ctx context.Context, date time.Time) (float64, error) {
	return 1350, nil
}

func (f *fakeFXClient) ConvertUSDToKRW(ctx context.Context, accountNumber string, currency domain.ForeignCurrency) (*domain.FXResult, error) {
	f.convertCalls++
	if len(f.convertErrs) > 0 {
		err := f.convertErrs[0]
		f.convertErrs = f.convertErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &domain.FXResult{
		Status:          "success",
		ExchangeRate:    1350,
		RequestedAmount: currency.ExchangeAmount,
		ExchangedAmount: currency.ExchangeAmount * 1350,
	}, nil
}

type fakeAccountRepo struct {
	statusWrites []domain.AccountStatus
	updateErr    error
}

func (f *fakeAccountRepo) Get(alias string) (*domain.Account, error) { return nil, nil }

func (f *fakeAccountRepo) ListByStatus(statuses ...domain.AccountStatus) ([]domain.Account, error) {
	return nil, nil
}

func (f *fakeAccountRepo) UpdateStatus(alias string, status domain.AccountStatus) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.statusWrites = append(f.statusWrites, status)
	return nil
}

type fxSink struct{}

func (fxSink) WriteBody(data interface{}, description string) {}

func etfAccount(status domain.AccountStatus) *domain.Account {
	return &domain.Account{Alias: "acct-1", AccountNumber: "12345678", AccountType: "etf", Status: status}
}

func usd(amount float64) []domain.ForeignCurrency {
	return []domain.ForeignCurrency{{CurrencyCode: "USD", ExchangeAmount: amount, ExchangeRate: 1350}}
}

func TestNormalPolicyEligibility(t *testing.T) {
	p := NormalPolicy{}
	assert.True(t, p.Eligible(etfAccount(domain.AccountNormal)))
	assert.False(t, p.Eligible(etfAccount(domain.AccountSellCompleted)))
	assert.False(t, p.Eligible(&domain.Account{AccountType: "fund", Status: domain.AccountNormal}))
}

func TestClosingPolicyEligibility(t *testing.T) {
	p := ClosingPolicy{}
	assert.True(t, p.Eligible(etfAccount(domain.AccountSellCompleted)))
	assert.True(t, p.Eligible(etfAccount(domain.AccountExchangeInProgress)))
	assert.True(t, p.Eligible(etfAccount(domain.AccountExchangeFailed)))
	assert.False(t, p.Eligible(etfAccount(domain.AccountNormal)))
}

func TestExchangeNegativeAmountClosing(t *testing.T) {
	fastRetry(t)
	client := &fakeFXClient{currencies: usd(-5)}
	repo := &fakeAccountRepo{}
	ex := NewExchanger(client, repo, fxSink{}, zerolog.Nop())

	result, err := ex.Exchange(context.Background(), ClosingPolicy{}, etfAccount(domain.AccountSellCompleted))
	require.NoError(t, err)
	assert.False(t, result.Exchanged)
	assert.Zero(t, client.convertCalls)
	require.NotEmpty(t, repo.statusWrites)
	assert.Equal(t, domain.AccountExchangeFailed, repo.statusWrites[0])
}

func TestExchangeEmptyAmountClosing(t *testing.T) {
	fastRetry(t)
	client := &fakeFXClient{currencies: usd(0)}
	repo := &fakeAccountRepo{}
	ex := NewExchanger(client, repo, fxSink{}, zerolog.Nop())

	result, err := ex.Exchange(context.Background(), ClosingPolicy{}, etfAccount(domain.AccountSellCompleted))
	require.NoError(t, err)
	assert.False(t, result.Exchanged)
	assert.Zero(t, client.convertCalls)
	assert.Equal(t, domain.AccountExchangeSucceeded, repo.statusWrites[0])
}

func TestExchangeZeroAmountNormalNoStatusWrite(t *testing.T) {
	fastRetry(t)
	client := &fakeFXClient{currencies: usd(0)}
	repo := &fakeAccountRepo{}
	ex := NewExchanger(client, repo, fxSink{}, zerolog.Nop())

	result, err := ex.Exchange(context.Background(), NormalPolicy{}, etfAccount(domain.AccountNormal))
	require.NoError(t, err)
	assert.False(t, result.Exchanged)
	assert.Empty(t, repo.statusWrites)
}

func TestExchangeRetriesTransientFailures(t *testing.T) {
	fastRetry(t)
	client := &fakeFXClient{
		currencies: usd(100),
		convertErrs: []error{
			domain.Retryable(errors.New("rate inconsistent")),
			domain.Retryable(errors.New("rate inconsistent")),
		},
	}
	repo := &fakeAccountRepo{}
	ex := NewExchanger(client, repo, fxSink{}, zerolog.Nop())

	result, err := ex.Exchange(context.Background(), ClosingPolicy{}, etfAccount(domain.AccountSellCompleted))
	require.NoError(t, err)
	assert.True(t, result.Exchanged)
	assert.Equal(t, 3, client.convertCalls)
	assert.Equal(t, 135000.0, result.ExchangedAmount)

	// in_progress before the convert, succeeded after, and the exit
	// guarantee re-persists the final status.
	assert.Equal(t, []domain.AccountStatus{
		domain.AccountExchangeInProgress,
		domain.AccountExchangeSucceeded,
		domain.AccountExchangeSucceeded,
	}, repo.statusWrites)
}

func TestExchangeNonRetryableFailsImmediately(t *testing.T) {
	fastRetry(t)
	client := &fakeFXClient{
		currencies:  usd(100),
		convertErrs: []error{errors.New("insufficient balance")},
	}
	repo := &fakeAccountRepo{}
	ex := NewExchanger(client, repo, fxSink{}, zerolog.Nop())

	_, err := ex.Exchange(context.Background(), ClosingPolicy{}, etfAccount(domain.AccountSellCompleted))
	require.Error(t, err)
	assert.Equal(t, 1, client.convertCalls)

	// Status stays at the in-progress marker; the exit guarantee still
	// persists it.
	assert.Equal(t, []domain.AccountStatus{
		domain.AccountExchangeInProgress,
		domain.AccountExchangeInProgress,
	}, repo.statusWrites)
}

func TestExchangeRetryExhaustion(t *testing.T) {
	fastRetry(t)
	client := &fakeFXClient{
		currencies: usd(100),
		convertErrs: []error{
			domain.Retryable(errors.New("rate inconsistent")),
			domain.Retryable(errors.New("rate inconsistent")),
			domain.Retryable(errors.New("rate inconsistent")),
		},
	}
	ex := NewExchanger(client, &fakeAccountRepo{}, fxSink{}, zerolog.Nop())

	_, err := ex.Exchange(context.Background(), ClosingPolicy{}, etfAccount(domain.AccountSellCompleted))
	require.Error(t, err)
	assert.Equal(t, 3, client.convertCalls)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestExchangeIneligibleAccount(t *testing.T) {
	fastRetry(t)
	ex := NewExchanger(&fakeFXClient{}, &fakeAccountRepo{}, fxSink{}, zerolog.Nop())

	_, err := ex.Exchange(context.Background(), NormalPolicy{}, etfAccount(domain.AccountSuspended))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotExchangeable)
}

func TestNormalPolicySuccessNoStatusWrites(t *testing.T) {
	fastRetry(t)
	client := &fakeFXClient{currencies: usd(250)}
	repo := &fakeAccountRepo{}
	ex := NewExchanger(client, repo, fxSink{}, zerolog.Nop())

	result, err := ex.Exchange(context.Background(), NormalPolicy{}, etfAccount(domain.AccountNormal))
	require.NoError(t, err)
	assert.True(t, result.Exchanged)
	assert.Empty(t, repo.statusWrites)
}
