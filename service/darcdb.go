package service

import (
	"time"

	"go.dedis.ch/ocs"
	"go.dedis.ch/ocs/darc"
	"go.dedis.ch/onet/v3/log"
	bolt "go.etcd.io/bbolt"
)

// DarcDB holds the database to the darcs. It has the following
// entries:
//  - DarcID - the protobuffed darc
//  - "latest" + DarcBaseID - the ID of the latest valid darc
//    attached to that BaseID
// The previous version of a darc is found with its PrevID.
type DarcDB struct {
	*bolt.DB
	bucketName []byte
}

var latestKey = []byte("latest")

// OpenDarcDB opens or creates the bolt database in path and makes sure the
// bucket exists.
func OpenDarcDB(path string, bucket []byte) (*DarcDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return NewDarcDB(db, bucket), nil
}

// NewDarcDB returns an initialized DarcDB structure. The bucket must exist.
func NewDarcDB(db *bolt.DB, bn []byte) *DarcDB {
	return &DarcDB{
		DB:         db,
		bucketName: bn,
	}
}

func latestKeyOf(baseID darc.ID) []byte {
	return append(append([]byte{}, latestKey...), baseID...)
}

// GetByID returns a new copy of the darc or nil if it doesn't exist
func (db *DarcDB) GetByID(id darc.ID) *darc.Darc {
	start := time.Now()
	defer func() {
		log.Lvl4("Time to get darc:", time.Since(start))
	}()
	var result *darc.Darc
	err := db.View(func(tx *bolt.Tx) error {
		d, err := db.getFromTx(tx, id)
		result = d
		return err
	})
	if err != nil {
		log.Error(err)
		return nil
	}
	return result
}

// GetLatestDarc looks in the database for the latest darc
// belonging to a darc-baseID. It returns nil if the base is unknown.
func (db *DarcDB) GetLatestDarc(baseID darc.ID) (d *darc.Darc, err error) {
	err = db.View(func(tx *bolt.Tx) error {
		d, err = db.latestFromTx(tx, baseID)
		return err
	})
	return
}

func (db *DarcDB) latestFromTx(tx *bolt.Tx, baseID darc.ID) (*darc.Darc, error) {
	latestID := tx.Bucket(db.bucketName).Get(latestKeyOf(baseID))
	if latestID == nil {
		return nil, nil
	}
	return db.getFromTx(tx, latestID)
}

// GetPathToLatest will search through the database to find
// the list of darcs that came after the one requested. The first element is
// start and the last one the latest version.
func (db *DarcDB) GetPathToLatest(start *darc.Darc) (path []*darc.Darc, err error) {
	err = db.View(func(tx *bolt.Tx) error {
		latest, err := db.latestFromTx(tx, start.GetBaseID())
		if err != nil {
			return err
		}
		if latest == nil {
			return ocs.Errorf(ocs.ErrCommunication, "didn't find latest")
		}
		if start.Version > latest.Version {
			return ocs.Errorf(ocs.ErrCommunication, "don't have a version number this big")
		}
		size := latest.Version - start.Version
		path = make([]*darc.Darc, size+1)
		path[0] = start
		for latest.Version > start.Version {
			path[size] = latest
			latest, err = db.getFromTx(tx, latest.PrevID)
			if err != nil {
				return err
			}
			if latest == nil {
				return ocs.Errorf(ocs.ErrCommunication, "didn't find previous")
			}
			size--
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return
}

// IsLatest returns true if d is the latest version stored for its base.
func (db *DarcDB) IsLatest(d *darc.Darc) bool {
	latest, err := db.GetLatestDarc(d.GetBaseID())
	return err == nil && latest != nil && latest.GetID().Equal(d.GetID())
}

// Store stores the given darc and marks it as the latest version of its base.
func (db *DarcDB) Store(d *darc.Darc) error {
	val, err := d.ToProto()
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(db.bucketName)
		if err := b.Put(latestKeyOf(d.GetBaseID()), d.GetID()); err != nil {
			return err
		}
		return b.Put(d.GetID(), val)
	})
}

// getFromTx returns the darc identified by id.
// nil is returned if the key does not exist.
// An error is thrown if unmarshalling fails.
// The caller must ensure that this function is called from within a valid transaction.
func (db *DarcDB) getFromTx(tx *bolt.Tx, id darc.ID) (*darc.Darc, error) {
	if len(id) == 0 {
		return nil, nil
	}
	val := tx.Bucket(db.bucketName).Get(id)
	if val == nil {
		return nil, nil
	}
	buf := make([]byte, len(val))
	copy(buf, val)
	return darc.NewFromProtobuf(buf)
}
