package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	memory_adapter "accountledger/internal/app/core/adapter/out/memory"
	mysql_adapter "accountledger/internal/app/core/adapter/out/mysql"
	"accountledger/internal/app/core/domain"
	"accountledger/internal/app/core/usecase"
	"accountledger/pkg/mysql"
	"accountledger/pkg/wal"
)

// Config 服務設定
// accounts 是初始帳戶，memory 後端每次啟動都從這份資料加上日誌重放還原狀態
type Config struct {
	Backend  string                 `yaml:"backend"` // "memory" 或 "mysql"
	WALPath  string                 `yaml:"wal_path"`
	MySQL    mysql.Config           `yaml:"mysql"`
	Accounts []domain.AccountRecord `yaml:"accounts"`
}

func main() {
	var (
		configPath = flag.String("config", "config/config.yaml", "設定檔路徑")
		op         = flag.String("op", "", "操作: create | deposit | withdraw | send | get | transactions | accounts | ledger")
		account    = flag.String("account", "", "帳戶 ID")
		target     = flag.String("target", "", "轉帳目標帳戶 ID")
		amount     = flag.Float64("amount", 0, "金額")
		currency   = flag.String("currency", "USD", "幣別")
		txID       = flag.String("id", "", "交易 ID (留空時自動產生)")
		note       = flag.String("note", "", "備註")
		givenName  = flag.String("given-name", "", "建立帳戶: 名")
		familyName = flag.String("family-name", "", "建立帳戶: 姓")
		email      = flag.String("email", "", "建立帳戶: email")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	var (
		accounts     usecase.AccountStore
		transactions usecase.TransactionStore
	)
	switch cfg.Backend {
	case "mysql":
		client, err := mysql.NewClient(cfg.MySQL)
		if err != nil {
			logger.Fatal("failed to connect to mysql", zap.Error(err))
		}
		defer client.Close()
		if err := mysql_adapter.AutoMigrate(client); err != nil {
			logger.Fatal("failed to migrate schema", zap.Error(err))
		}
		sqlAccounts := mysql_adapter.NewAccountStore(client)
		if err := seedAccounts(ctx, sqlAccounts, cfg.Accounts); err != nil {
			logger.Fatal("failed to seed accounts", zap.Error(err))
		}
		accounts = sqlAccounts
		transactions = mysql_adapter.NewTransactionStore(client)
	case "memory":
		journal, err := wal.NewWAL(cfg.WALPath)
		if err != nil {
			logger.Fatal("failed to open wal", zap.Error(err))
		}
		defer journal.Close()

		memAccounts := memory_adapter.NewAccountStore(cfg.Accounts)
		memTransactions, err := memory_adapter.NewTransactionStore(journal)
		if err != nil {
			logger.Fatal("failed to replay wal", zap.Error(err))
		}
		if err := memory_adapter.Replay(ctx, memAccounts, memTransactions); err != nil {
			logger.Fatal("failed to replay transactions", zap.Error(err))
		}
		accounts = memAccounts
		transactions = memTransactions
	default:
		logger.Fatal("invalid backend", zap.String("backend", cfg.Backend))
	}

	ledger := usecase.NewLedger(accounts, transactions, logger)

	// 交易 ID 留空時由這裡補上，引擎本身只接受呼叫端給的字串 ID
	if *txID == "" {
		*txID = uuid.NewString()
	}

	var result any
	switch *op {
	case "create":
		payload := domain.Payload{
			"id":            *account,
			"given_name":    *givenName,
			"family_name":   *familyName,
			"email_address": *email,
			"note":          *note,
		}
		if *amount != 0 {
			payload["balance"] = domain.Payload{"amount": *amount, "currency": *currency}
		}
		result, err = ledger.CreateAccount(ctx, payload)
	case "deposit":
		result, err = ledger.Deposit(ctx, *account, transactionPayload(*txID, *amount, *currency, *note, ""))
	case "withdraw":
		result, err = ledger.Withdraw(ctx, *account, transactionPayload(*txID, *amount, *currency, *note, ""))
	case "send":
		result, err = ledger.Send(ctx, *account, transactionPayload(*txID, *amount, *currency, *note, *target))
	case "get":
		result, err = ledger.GetAccount(ctx, *account)
	case "transactions":
		result, err = ledger.GetAccountTransactions(ctx, *account)
	case "accounts":
		result, err = ledger.ListAccounts(ctx)
	case "ledger":
		result, err = ledger.ListTransactions(ctx)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal("operation failed", zap.String("op", *op), zap.Error(err))
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Fatal("failed to encode result", zap.Error(err))
	}
	fmt.Println(string(out))
}

// transactionPayload 將 CLI 參數組成交易 payload
func transactionPayload(id string, amount float64, currency, note, target string) domain.Payload {
	p := domain.Payload{
		"id": id,
		"amount_money": domain.Payload{
			"amount":   amount,
			"currency": currency,
		},
	}
	if note != "" {
		p["note"] = note
	}
	if target != "" {
		p["target_account_id"] = target
	}
	return p
}

// seedAccounts 將設定檔的初始帳戶補進資料庫 (已存在的跳過)
func seedAccounts(ctx context.Context, store usecase.AccountStore, seed []domain.AccountRecord) error {
	for _, rec := range seed {
		exists, err := store.Exists(ctx, rec.ID)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := store.Append(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// loadConfig 讀取 yaml 設定並補上預設值
func loadConfig(path string) (Config, error) {
	cfg := Config{
		Backend: "memory",
		WALPath: "ledger.wal",
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	// MySQL 預設配置 (yaml 沒寫時)
	if cfg.MySQL.MaxOpenConns == 0 {
		cfg.MySQL.MaxOpenConns = 100
	}
	if cfg.MySQL.MaxIdleConns == 0 {
		cfg.MySQL.MaxIdleConns = 10
	}
	if cfg.MySQL.ConnMaxLifetime == 0 {
		cfg.MySQL.ConnMaxLifetime = 30 * time.Minute
	}
	return cfg, nil
}
