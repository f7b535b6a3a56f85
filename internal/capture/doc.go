// Package capture records radio frames to a CBOR file and reads them back.
//
// A Writer implements radio.FrameObserver, so passing it to
// radio.WithFrameObserver appends one Record per inbound or outbound frame.
// Records use small integer map keys and canonical encoding, which keeps the
// file compact and byte-stable.
//
//	w, err := capture.NewWriter("/var/lib/radiolink/frames.cbor")
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//	dev, err := radio.NewDevice(t, radio.WithFrameObserver(w))
//
// A Reader streams records back, optionally filtered:
//
//	in := radio.Inbound
//	r, err := capture.NewFilteredReader(path, capture.Filter{Direction: &in})
//	for {
//	    rec, err := r.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
package capture
