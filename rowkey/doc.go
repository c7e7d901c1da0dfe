package rowkey

// rowkey converts the primitive types we accept as row keys into the byte
// encodings HBase's own client produces for them (Bytes.toBytes on the Java
// side), and back. Only a closed set of types is supported: text, 64-bit
// integers, doubles and 32-bit integers. Anything else is rejected so that a
// caller can never write a row under a key that other HBase clients would
// encode differently.
