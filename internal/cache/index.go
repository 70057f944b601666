// Package cache 维护已下载归档的本地索引（bbolt 单文件库）。
//
// 索引只记录元数据：名称、来源、落盘路径、大小、sha256 与获取时间；
// 归档字节本身由 retrieve.Resolver 放在缓存目录中。
package cache

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/unixpickle/essentials"
	"go.etcd.io/bbolt"
)

var bucketArchives = []byte("archives")

// ErrNotFound: 索引中不存在该名称。
var ErrNotFound = errors.New("cache entry not found")

// Entry 为一条归档缓存记录。
type Entry struct {
	Name      string    `json:"name"`
	Origin    string    `json:"origin"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Index 为 bbolt 支撑的归档索引。单进程独占（bbolt 文件锁）。
type Index struct {
	db *bbolt.DB
}

// Open 打开（或创建）索引文件。
func Open(path string) (idx *Index, err error) {
	defer essentials.AddCtxTo("open cache index", &err)
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketArchives)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Index{db: db}, nil
}

// Lookup 按名称查找；不存在时 ok=false 且 err=nil。
func (x *Index) Lookup(name string) (e Entry, ok bool, err error) {
	defer essentials.AddCtxTo("lookup "+name, &err)
	err = x.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketArchives).Get([]byte(name))
		if data == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(data, &e)
	})
	if err != nil {
		return Entry{}, false, err
	}
	return e, ok, nil
}

// Record 写入或覆盖一条记录（Name 为键）。
func (x *Index) Record(e Entry) (err error) {
	defer essentials.AddCtxTo("record "+e.Name, &err)
	if e.Name == "" {
		return errors.New("empty entry name")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return x.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketArchives).Put([]byte(e.Name), data)
	})
}

// Forget 删除一条记录；不存在时返回 ErrNotFound。
func (x *Index) Forget(name string) (err error) {
	defer essentials.AddCtxTo("forget "+name, &err)
	return x.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketArchives)
		if b.Get([]byte(name)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(name))
	})
}

// List 返回全部记录（按名称字典序，bbolt 键有序）。
func (x *Index) List() (out []Entry, err error) {
	defer essentials.AddCtxTo("list entries", &err)
	err = x.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketArchives).ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

// Close 关闭底层数据库。
func (x *Index) Close() error {
	if x == nil || x.db == nil {
		return nil
	}
	return x.db.Close()
}
