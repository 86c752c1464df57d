package wal

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"
)

// rw-r--r-- 一般資料檔的預設權限
const fileModeDefault fs.FileMode = 0644

// WAL 附加式交易日誌
// 每筆紀錄一行 JSON，寫入後立即 fsync，行程重啟後可完整重放
type WAL struct {
	file *os.File
	mu   sync.Mutex
}

// NewWAL 開啟或建立日誌檔
// O_APPEND 讓每次寫入自動跳到檔尾，O_CREATE 在檔案不存在時建立
func NewWAL(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, fileModeDefault)
	if err != nil {
		return nil, err
	}
	return &WAL{file: file}, nil
}

// Write 寫入一筆紀錄並強制刷入硬碟
// 回傳錯誤時這筆紀錄視為沒有被記錄
func (w *WAL) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := json.NewEncoder(w.file).Encode(v); err != nil {
		return err
	}
	return w.file.Sync()
}

// ReadAll 從頭讀出所有紀錄，逐筆交給 callback
// 用 callback 避免一次把整個日誌載入記憶體
func (w *WAL) ReadAll(callback func(jsonRaw []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	decoder := json.NewDecoder(w.file)
	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		if err := callback(raw); err != nil {
			return err
		}
	}
	return nil
}

// Close 關閉日誌檔
func (w *WAL) Close() error {
	return w.file.Close()
}
